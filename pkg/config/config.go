// Package config defines and loads proxd's configuration.
package config

import (
	"fmt"
	"time"
)

// StatTemplate binds a content type to the template file rendering it.
// The list in Config is ordered; the stats endpoint matches entries first
// to last and the first match wins.
type StatTemplate struct {
	ContentType string `yaml:"contentType" json:"contentType"`
	Template    string `yaml:"template" json:"template"`
}

// ACLRule is one access policy entry.
type ACLRule struct {
	When   string `yaml:"when" json:"when"`
	Action string `yaml:"action" json:"action"`
}

// ACLConfig is the proxy's access policy.
type ACLConfig struct {
	// Default is applied when no rule matches: "allow" or "deny".
	Default string    `yaml:"default" json:"default"`
	Rules   []ACLRule `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// RateLimitConfig controls connection refusal under load.
type RateLimitConfig struct {
	// Rate is requests per second per client. Zero disables it.
	Rate float64 `yaml:"rate" json:"rate"`
	// Burst is the token bucket capacity (default: 2x rate).
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`
	// MaxClients caps concurrently handled connections. Zero means no cap.
	MaxClients int `yaml:"maxClients,omitempty" json:"maxClients,omitempty"`
	// TrustedProxies lists CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Config is the full proxd configuration.
type Config struct {
	// Listen is the proxy's listen address, host:port.
	Listen string `yaml:"listen" json:"listen"`

	// StatHost is the magic hostname answered with the statistics page
	// instead of being forwarded.
	StatHost string `yaml:"statHost" json:"statHost"`

	// StatFile is the single fallback stats template used when no
	// statTemplates entry matches the request.
	StatFile string `yaml:"statFile,omitempty" json:"statFile,omitempty"`

	// StatTemplates is the ordered content-type to template registry for
	// the stats endpoint.
	StatTemplates []StatTemplate `yaml:"statTemplates,omitempty" json:"statTemplates,omitempty"`

	// UpstreamTimeoutMs bounds the round trip to the origin server.
	UpstreamTimeoutMs int `yaml:"upstreamTimeoutMs,omitempty" json:"upstreamTimeoutMs,omitempty"`

	RateLimit RateLimitConfig `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	ACL       ACLConfig       `yaml:"acl,omitempty" json:"acl,omitempty"`
	Log       LogConfig       `yaml:"log,omitempty" json:"log,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   ":8888",
		StatHost: "proxd.stats",
		StatTemplates: []StatTemplate{
			{ContentType: "text/html", Template: "data/templates/stats.html"},
			{ContentType: "application/json", Template: "data/templates/stats.json"},
		},
		UpstreamTimeoutMs: 30000,
		ACL:               ACLConfig{Default: "allow"},
		Log:               LogConfig{Level: "info", Format: "text"},
	}
}

// UpstreamTimeout returns the configured upstream timeout as a duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutMs) * time.Millisecond
}

// ValidationError reports a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config field %s: %s", e.Field, e.Message)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return &ValidationError{Field: "listen", Message: "listen address is required"}
	}
	if c.StatHost == "" {
		return &ValidationError{Field: "statHost", Message: "stat host is required"}
	}
	seen := make(map[string]bool, len(c.StatTemplates))
	for i, st := range c.StatTemplates {
		if st.ContentType == "" || st.Template == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("statTemplates[%d]", i),
				Message: "contentType and template are both required",
			}
		}
		if seen[st.ContentType] {
			// A duplicate could only ever be shadowed by the earlier entry.
			return &ValidationError{
				Field:   fmt.Sprintf("statTemplates[%d]", i),
				Message: fmt.Sprintf("duplicate content type %q", st.ContentType),
			}
		}
		seen[st.ContentType] = true
	}
	if c.UpstreamTimeoutMs < 0 {
		return &ValidationError{Field: "upstreamTimeoutMs", Message: "must not be negative"}
	}
	if c.RateLimit.Rate < 0 {
		return &ValidationError{Field: "rateLimit.rate", Message: "must not be negative"}
	}
	if c.RateLimit.MaxClients < 0 {
		return &ValidationError{Field: "rateLimit.maxClients", Message: "must not be negative"}
	}
	switch c.ACL.Default {
	case "", "allow", "deny":
	default:
		return &ValidationError{Field: "acl.default", Message: `must be "allow" or "deny"`}
	}
	for i, r := range c.ACL.Rules {
		if r.When == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("acl.rules[%d].when", i),
				Message: "expression is required",
			}
		}
		if r.Action != "allow" && r.Action != "deny" {
			return &ValidationError{
				Field:   fmt.Sprintf("acl.rules[%d].action", i),
				Message: `must be "allow" or "deny"`,
			}
		}
	}
	return nil
}
