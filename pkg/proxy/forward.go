package proxy

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// hopByHopHeaders must not be forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardHTTP relays a plain HTTP request to its origin server.
func (s *Server) forwardHTTP(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		log.Debug("cannot build upstream request", "error", err)
		s.errorPage(w, http.StatusBadRequest, "Bad Request",
			"The request could not be forwarded.")
		return
	}

	copyHeaders(outReq.Header, r.Header)
	removeHopByHopHeaders(outReq.Header)
	outReq.Header.Set("X-Forwarded-For", s.limiter.ClientIP(r))
	outReq.Header.Add("Via", "1.1 "+s.build.Name)

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		log.Warn("upstream request failed", "host", requestHost(r), "error", err)
		s.errorPage(w, http.StatusBadGateway, "Bad Gateway",
			"The origin server could not be reached or returned an invalid response.")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	removeHopByHopHeaders(resp.Header)
	copyHeaders(w.Header(), resp.Header)
	w.Header().Add("Via", "1.1 "+s.build.Name)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug("response relay interrupted", "error", err)
		return
	}

	log.Debug("request forwarded", "method", r.Method, "host", requestHost(r), "status", resp.StatusCode)
}

// tunnelConnect serves a CONNECT request with a direct TCP tunnel.
func (s *Server) tunnelConnect(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	dialTimeout := s.cfg.UpstreamTimeout()
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	targetConn, err := net.DialTimeout("tcp", r.Host, dialTimeout)
	if err != nil {
		log.Warn("cannot reach tunnel target", "target", r.Host, "error", err)
		s.errorPage(w, http.StatusBadGateway, "Bad Gateway",
			"The requested tunnel destination could not be reached.")
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = targetConn.Close()
		log.Error("transport does not support hijacking")
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error",
			"Tunneling is not supported on this connection.")
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		_ = targetConn.Close()
		log.Error("hijack failed", "error", err)
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
		log.Debug("cannot confirm tunnel to client", "error", err)
		_ = clientConn.Close()
		_ = targetConn.Close()
		return
	}

	log.Debug("tunnel established", "target", r.Host)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(targetConn, clientConn)
		_ = targetConn.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(clientConn, targetConn)
		_ = clientConn.Close()
	}()
	wg.Wait()
}

// copyHeaders copies headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// removeHopByHopHeaders strips headers that only apply to one hop.
func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
