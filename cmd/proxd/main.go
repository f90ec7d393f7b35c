// proxd CLI - a small forwarding HTTP proxy with run-time statistics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getproxd/proxd/pkg/config"
	"github.com/getproxd/proxd/pkg/logging"
	"github.com/getproxd/proxd/pkg/proxy"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var (
	flagConfig    string
	flagListen    string
	flagStatHost  string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "proxd",
	Short: "A small forwarding HTTP proxy with run-time statistics",
	Long: `proxd relays plain HTTP requests and CONNECT tunnels, applies an
access policy and per-client rate limits, and serves its run-time
statistics on a magic host (default proxd.stats) through the proxy
itself.`,
	Example: `  # Start with defaults on :8888
  proxd

  # Start with a config file
  proxd serve --config /etc/proxd/proxd.yaml

  # Override the listen address
  proxd serve --listen :3128 --log-level debug`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy (default command)",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proxd %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "listen address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagStatHost, "stat-host", "", "statistics hostname (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text, json")

	rootCmd.AddCommand(serveCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagStatHost != "" {
		cfg.StatHost = flagStatHost
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	srv, err := proxy.New(cfg,
		proxy.WithLogger(log),
		proxy.WithBuildInfo(proxy.BuildInfo{Name: "proxd", Version: Version}),
	)
	if err != nil {
		return err
	}

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("proxd started", "version", Version, "listen", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
