// Package fetcher holds what the HTML and byte-stream transports share: the
// per-run connection pool and the User-Agent policy.
package fetcher

import (
	"net"
	"net/http"
	"strings"
	"time"

	browser "github.com/EDDYCJY/fake-useragent"
)

// RandomUserAgent is the setting that picks a random browser User-Agent.
const RandomUserAgent = "random"

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "async-scrapers/1.0 (+https://github.com/JakeFAU/async-scrapers)"

// Config controls the shared transport.
type Config struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// MaxIdleConnsPerHost bounds pooled keep-alive connections per host; it
	// is usually set to the concurrency budget.
	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host"`
}

// randomUserAgent is swapped in tests.
var randomUserAgent = browser.Random

// ResolveUserAgent turns a configured User-Agent setting into the header
// value for one run.
func ResolveUserAgent(setting string) string {
	setting = strings.TrimSpace(setting)
	switch {
	case setting == "":
		return DefaultUserAgent
	case strings.EqualFold(setting, RandomUserAgent):
		if ua := strings.TrimSpace(randomUserAgent()); ua != "" {
			return ua
		}
		return DefaultUserAgent
	default:
		return setting
	}
}

// NewTransport builds the connection pool shared by every fetch of a run.
// Callers close it with CloseIdleConnections when the run ends.
func NewTransport(cfg Config) *http.Transport {
	perHost := cfg.MaxIdleConnsPerHost
	if perHost <= 0 {
		perHost = http.DefaultMaxIdleConnsPerHost
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   perHost,
		IdleConnTimeout:       90 * time.Second,
	}
}

// RequestTimeout returns the configured timeout or the 30s default.
func (c Config) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}
