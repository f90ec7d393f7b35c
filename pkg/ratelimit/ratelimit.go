// Package ratelimit decides which connections proxd refuses under load.
//
// Two mechanisms combine: a per-client token bucket smoothing request rates,
// and a gate capping the number of connections handled at once. A connection
// turned away by either is a refusal, not a policy denial.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default limiter values.
const (
	DefaultCleanupInterval = 1 * time.Minute
	DefaultEntryTTL        = 5 * time.Minute
)

// clientBucket is the token bucket for a single client IP.
type clientBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// Config configures a Limiter.
type Config struct {
	// Rate is the sustained request rate per client, in requests per second.
	// Zero or negative disables per-client limiting.
	Rate float64
	// Burst is the bucket capacity. Defaults to twice the rate.
	Burst int
	// MaxClients caps concurrently handled connections. Zero means no cap.
	MaxClients int
	// TrustedProxies lists CIDR ranges (or single IPs) whose
	// X-Forwarded-For headers are believed.
	TrustedProxies []string
	// CleanupInterval and EntryTTL control eviction of idle client buckets.
	CleanupInterval time.Duration
	EntryTTL        time.Duration
}

// Limiter refuses connections when a client exceeds its request rate or the
// proxy is at its concurrent-connection cap. Safe for concurrent use.
type Limiter struct {
	rate           float64
	burst          float64
	maxClients     int
	trustedProxies []*net.IPNet

	mu      sync.RWMutex
	buckets map[string]*clientBucket

	activeMu sync.Mutex
	active   int

	cleanupInterval time.Duration
	entryTTL        time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// New creates a Limiter and starts its bucket-eviction goroutine.
// Call Stop when the limiter is no longer needed.
func New(cfg Config) *Limiter {
	burst := float64(cfg.Burst)
	if burst <= 0 {
		burst = cfg.Rate * 2
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	entryTTL := cfg.EntryTTL
	if entryTTL <= 0 {
		entryTTL = DefaultEntryTTL
	}

	l := &Limiter{
		rate:            cfg.Rate,
		burst:           burst,
		maxClients:      cfg.MaxClients,
		buckets:         make(map[string]*clientBucket),
		cleanupInterval: cleanupInterval,
		entryTTL:        entryTTL,
		stopCh:          make(chan struct{}),
	}
	l.trustedProxies = parseTrustedProxies(cfg.TrustedProxies)

	go l.cleanup()
	return l
}

func parseTrustedProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			// Single IP without a mask.
			if ip := net.ParseIP(entry); ip != nil {
				if ip.To4() != nil {
					_, network, _ = net.ParseCIDR(entry + "/32")
				} else {
					_, network, _ = net.ParseCIDR(entry + "/128")
				}
			}
		}
		if network != nil {
			nets = append(nets, network)
		}
	}
	return nets
}

// Admit tries to admit a connection from ip. When it returns true the caller
// must call Release once handling finishes. A false return means the
// connection is refused.
func (l *Limiter) Admit(ip string) bool {
	if l.maxClients > 0 {
		l.activeMu.Lock()
		if l.active >= l.maxClients {
			l.activeMu.Unlock()
			return false
		}
		l.active++
		l.activeMu.Unlock()
	}

	if l.rate > 0 && !l.takeToken(ip) {
		l.release()
		return false
	}
	return true
}

// Release returns the connection slot taken by a successful Admit.
func (l *Limiter) Release() {
	l.release()
}

func (l *Limiter) release() {
	if l.maxClients <= 0 {
		return
	}
	l.activeMu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.activeMu.Unlock()
}

// Active returns the number of currently admitted connections.
func (l *Limiter) Active() int {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	return l.active
}

// takeToken consumes one token from ip's bucket, creating the bucket full
// on first sight of the client.
func (l *Limiter) takeToken(ip string) bool {
	now := time.Now()

	l.mu.RLock()
	bucket, ok := l.buckets[ip]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		bucket, ok = l.buckets[ip]
		if !ok {
			bucket = &clientBucket{tokens: l.burst, lastUpdate: now}
			l.buckets[ip] = bucket
		}
		l.mu.Unlock()
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	elapsed := now.Sub(bucket.lastUpdate).Seconds()
	bucket.tokens += elapsed * l.rate
	if bucket.tokens > l.burst {
		bucket.tokens = l.burst
	}
	bucket.lastUpdate = now

	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// ClientIP extracts the client address for limiting and policy decisions.
// X-Forwarded-For is honored only when the peer is a trusted proxy.
func (l *Limiter) ClientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}

	if l.isTrusted(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			// Leftmost address is the original client.
			first := strings.TrimSpace(strings.Split(xff, ",")[0])
			if net.ParseIP(first) != nil {
				return first
			}
		}
	}
	return peer
}

func (l *Limiter) isTrusted(peer string) bool {
	ip := net.ParseIP(peer)
	if ip == nil {
		return false
	}
	for _, network := range l.trustedProxies {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// cleanup evicts buckets idle longer than the entry TTL.
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-l.entryTTL)
			l.mu.Lock()
			for ip, bucket := range l.buckets {
				bucket.mu.Lock()
				stale := bucket.lastUpdate.Before(cutoff)
				bucket.mu.Unlock()
				if stale {
					delete(l.buckets, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop terminates the eviction goroutine. Idempotent.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}
