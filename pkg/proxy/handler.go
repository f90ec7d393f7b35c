package proxy

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/getproxd/proxd/pkg/acl"
	"github.com/getproxd/proxd/pkg/htmlpage"
	"github.com/getproxd/proxd/pkg/stats"
)

// ServeHTTP is the proxy's request entry point.
//
// Lifecycle events map to counters as follows: a connection turned away by
// the limiter is a refusal, an invalid proxy request is a bad connection and
// a policy rejection is a denial; none of those count as opened. A request
// that passes all three gates records an open, which also counts the
// request, and a matching close when handling finishes. Stats-page requests
// go through the same gates and are counted like any other request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := s.limiter.ClientIP(r)
	log := s.log.With("request_id", uuid.NewString(), "client", ip)

	if !s.limiter.Admit(ip) {
		_ = s.stats.Update(stats.EventRefuse)
		log.Warn("connection refused under load")
		s.errorPage(w, http.StatusTooManyRequests, "Too Many Requests",
			"The proxy is too busy to handle your request right now. Please try again later.")
		return
	}
	defer s.limiter.Release()

	if s.isStatsRequest(r) {
		_ = s.stats.Update(stats.EventOpen)
		defer func() { _ = s.stats.Update(stats.EventClose) }()
		s.serveStats(w, r, log)
		return
	}

	if !validProxyRequest(r) {
		_ = s.stats.Update(stats.EventBadConnection)
		log.Debug("bad proxy request", "method", r.Method, "uri", r.RequestURI)
		s.errorPage(w, http.StatusBadRequest, "Bad Request",
			"The request is not a valid proxy request.")
		return
	}

	if !s.policy.Allow(acl.Request{IP: ip, Host: requestHost(r), Port: requestPort(r), Method: r.Method, Path: r.URL.Path}) {
		_ = s.stats.Update(stats.EventDeny)
		log.Info("connection denied by policy", "host", requestHost(r), "method", r.Method)
		s.errorPage(w, http.StatusForbidden, "Access Denied",
			"The administrator of this proxy has not configured it to service requests to your destination.")
		return
	}

	_ = s.stats.Update(stats.EventOpen)
	defer func() { _ = s.stats.Update(stats.EventClose) }()

	if r.Method == http.MethodConnect {
		s.tunnelConnect(w, r, log)
		return
	}
	s.forwardHTTP(w, r, log)
}

// isStatsRequest reports whether r asks for the statistics page: any request
// addressed to the configured stat host.
func (s *Server) isStatsRequest(r *http.Request) bool {
	return requestHost(r) == s.cfg.StatHost
}

// serveStats answers a reporting request through the stats renderer, with
// the request's Accept header as the content preference.
func (s *Server) serveStats(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	status, err := s.renderer.Render(&responseSender{w: w}, r.Header.Get("Accept"))
	if err != nil {
		// The transport to the client is broken; nothing further can be
		// sent, only recorded.
		log.Error("stats page transmission failed", "error", err)
		return
	}
	log.Debug("stats page served", "status", status)
}

// validProxyRequest reports whether r is something the proxy can relay:
// a CONNECT with a host:port target, or an absolute-form request line.
func validProxyRequest(r *http.Request) bool {
	if r.Method == http.MethodConnect {
		_, _, err := net.SplitHostPort(r.Host)
		return err == nil
	}
	return r.URL.IsAbs()
}

// requestHost returns the request's target host without any port.
func requestHost(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// requestPort returns the destination port, falling back to the scheme
// default when the target carries none.
func requestPort(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if _, p, err := net.SplitHostPort(host); err == nil {
		return p
	}
	if r.URL.Scheme == "https" {
		return "443"
	}
	return "80"
}

// errorPage sends one of the proxy's own HTML error pages.
func (s *Server) errorPage(w http.ResponseWriter, status int, title, detail string) {
	htmlpage.Page{Status: status, Title: title, Detail: detail}.Write(w, s.build.Name, s.build.Version)
}
