// Package integration exercises proxd end to end: a real proxy server, a
// real origin, and a client configured to go through the proxy.
package integration

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getproxd/proxd/pkg/config"
	"github.com/getproxd/proxd/pkg/proxy"
)

// proxyBundle groups the running proxy with a client that uses it.
type proxyBundle struct {
	Server *proxy.Server
	Client *http.Client
}

func startProxy(t *testing.T, cfg *config.Config) *proxyBundle {
	t.Helper()

	if cfg == nil {
		cfg = config.Default()
		cfg.StatTemplates = nil
	}
	cfg.Listen = "127.0.0.1:0"

	srv, err := proxy.New(cfg, proxy.WithBuildInfo(proxy.BuildInfo{Name: "proxd", Version: "test"}))
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})

	proxyURL, err := url.Parse("http://" + srv.Addr())
	require.NoError(t, err)

	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: 10 * time.Second,
	}

	return &proxyBundle{Server: srv, Client: client}
}

func fetch(t *testing.T, client *http.Client, url string, accept string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, string(body)
}

func TestProxyForwardsHTTP(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "origin saw %s %s", r.Method, r.URL.Path)
	}))
	defer origin.Close()

	b := startProxy(t, nil)

	resp, body := fetch(t, b.Client, origin.URL+"/hello", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "origin saw GET /hello", body)
	assert.Contains(t, resp.Header.Get("Via"), "proxd")

	snap := b.Server.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Requests)
	assert.EqualValues(t, 0, snap.OpenConnections)
}

func TestProxyTunnelsConnect(t *testing.T) {
	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure origin")
	}))
	defer origin.Close()

	b := startProxy(t, nil)

	// The client CONNECTs through the proxy for https URLs.
	resp, body := fetch(t, b.Client, origin.URL, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "secure origin", body)

	snap := b.Server.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.Requests)
}

func TestStatsPageThroughProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer origin.Close()

	b := startProxy(t, nil)

	for i := 0; i < 3; i++ {
		resp, _ := fetch(t, b.Client, origin.URL+"/x", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := fetch(t, b.Client, "http://proxd.stats/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// Three forwarded requests plus the stats request itself.
	assert.Contains(t, body, "Number of requests: 4")
	assert.Contains(t, body, "proxd version test")
}

func TestStatsContentNegotiationThroughProxy(t *testing.T) {
	dir := t.TempDir()
	htmlPath := filepath.Join(dir, "stats.html")
	jsonPath := filepath.Join(dir, "stats.json")
	require.NoError(t, os.WriteFile(htmlPath, []byte("<b>{reqs} requests</b>"), 0o644))
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"requests": {reqs}, "open": {opens}}`), 0o644))

	cfg := config.Default()
	cfg.StatTemplates = []config.StatTemplate{
		{ContentType: "text/html", Template: htmlPath},
		{ContentType: "application/json", Template: jsonPath},
	}
	b := startProxy(t, cfg)

	t.Run("json template", func(t *testing.T) {
		resp, body := fetch(t, b.Client, "http://proxd.stats/", "application/json")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"requests": 1, "open": 1}`, body)
	})

	t.Run("first match wins for combined accept", func(t *testing.T) {
		resp, body := fetch(t, b.Client, "http://proxd.stats/", "text/html,application/json;q=0.9")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.True(t, strings.HasPrefix(body, "<b>"), "expected html template, got %q", body)
	})

	t.Run("unmatched accept uses built-in page", func(t *testing.T) {
		resp, body := fetch(t, b.Client, "http://proxd.stats/", "text/plain")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, "run-time statistics")
	})
}

func TestPolicyDenialThroughProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer origin.Close()

	cfg := config.Default()
	cfg.StatTemplates = nil
	cfg.ACL.Rules = []config.ACLRule{
		{When: `path contains "forbidden"`, Action: "deny"},
	}
	b := startProxy(t, cfg)

	resp, body := fetch(t, b.Client, origin.URL+"/forbidden/thing", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "Access Denied")

	resp, _ = fetch(t, b.Client, origin.URL+"/fine", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	snap := b.Server.Stats().Snapshot()
	assert.EqualValues(t, 1, snap.DeniedConnections)
	assert.EqualValues(t, 1, snap.Requests)
}

func TestRateLimitRefusalThroughProxy(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer origin.Close()

	cfg := config.Default()
	cfg.StatTemplates = nil
	cfg.RateLimit.Rate = 0.001
	cfg.RateLimit.Burst = 2
	b := startProxy(t, cfg)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp, _ := fetch(t, b.Client, origin.URL+"/x", "")
		statuses = append(statuses, resp.StatusCode)
	}

	assert.Equal(t, []int{200, 200, 429, 429}, statuses)
	snap := b.Server.Stats().Snapshot()
	assert.EqualValues(t, 2, snap.RefusedConnections)
	assert.EqualValues(t, 2, snap.Requests)
}
