// Package proxy implements the proxd forwarding proxy engine.
//
// The Server relays plain HTTP requests and CONNECT tunnels, enforces the
// access policy and rate limits, reports every connection lifecycle
// transition to the statistics store, and answers requests for the
// configured stat host with the statistics page.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/getproxd/proxd/pkg/acl"
	"github.com/getproxd/proxd/pkg/config"
	"github.com/getproxd/proxd/pkg/logging"
	"github.com/getproxd/proxd/pkg/ratelimit"
	"github.com/getproxd/proxd/pkg/stats"
)

// Server lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("server is already running")
	ErrNotRunning     = errors.New("server is not running")
)

// BuildInfo identifies the product on rendered pages.
type BuildInfo struct {
	Name    string
	Version string
}

// Server is the proxd proxy engine.
type Server struct {
	cfg       *config.Config
	log       *slog.Logger
	stats     *stats.Store
	renderer  *stats.Renderer
	policy    *acl.Policy
	limiter   *ratelimit.Limiter
	transport http.RoundTripper
	build     BuildInfo

	mu         sync.RWMutex
	running    bool
	listener   net.Listener
	httpServer *http.Server
}

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithStore injects the statistics store. Useful when the caller wants to
// observe the counters directly, as tests do.
func WithStore(store *stats.Store) Option {
	return func(s *Server) {
		if store != nil {
			s.stats = store
		}
	}
}

// WithBuildInfo sets the product name and version shown on generated pages.
func WithBuildInfo(build BuildInfo) Option {
	return func(s *Server) {
		if build.Name != "" {
			s.build.Name = build.Name
		}
		if build.Version != "" {
			s.build.Version = build.Version
		}
	}
}

// WithTransport overrides the upstream round tripper. Tests use this; the
// default is an http.Transport with the configured upstream timeout.
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) {
		if rt != nil {
			s.transport = rt
		}
	}
}

// New creates a Server from cfg. The access policy is compiled here, so a
// broken rule fails startup rather than being discovered per request.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Server{
		cfg:   cfg,
		log:   logging.Nop(),
		stats: stats.NewStore(),
		build: BuildInfo{Name: "proxd", Version: "dev"},
	}
	for _, o := range opts {
		o(s)
	}

	rules := make([]acl.Rule, 0, len(cfg.ACL.Rules))
	for _, r := range cfg.ACL.Rules {
		rules = append(rules, acl.Rule{When: r.When, Action: acl.Action(r.Action)})
	}
	policy, err := acl.New(rules, acl.Action(cfg.ACL.Default), s.log)
	if err != nil {
		return nil, err
	}
	s.policy = policy

	s.limiter = ratelimit.New(ratelimit.Config{
		Rate:           cfg.RateLimit.Rate,
		Burst:          cfg.RateLimit.Burst,
		MaxClients:     cfg.RateLimit.MaxClients,
		TrustedProxies: cfg.RateLimit.TrustedProxies,
	})

	formats := make([]stats.Format, 0, len(cfg.StatTemplates))
	for _, st := range cfg.StatTemplates {
		formats = append(formats, stats.Format{ContentType: st.ContentType, Template: st.Template})
	}
	s.renderer = stats.NewRenderer(s.stats,
		stats.WithFormats(formats),
		stats.WithStatFile(cfg.StatFile),
		stats.WithProduct(s.build.Name, s.build.Version),
		stats.WithLogger(s.log),
	)

	if s.transport == nil {
		s.transport = &http.Transport{
			ResponseHeaderTimeout: cfg.UpstreamTimeout(),
		}
	}

	return s, nil
}

// Stats returns the server's statistics store.
func (s *Server) Stats() *stats.Store {
	return s.stats
}

// Start begins listening on the configured address and serves in the
// background. Use Stop to shut down.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s}
	s.running = true
	s.mu.Unlock()

	s.log.Info("proxy listening", "addr", ln.Addr().String(), "statHost", s.cfg.StatHost)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" when not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	srv := s.httpServer
	s.running = false
	s.listener = nil
	s.httpServer = nil
	s.mu.Unlock()

	s.limiter.Stop()
	return srv.Shutdown(ctx)
}
