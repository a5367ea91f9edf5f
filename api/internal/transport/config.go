package transport

import (
	"net/url"
	"time"
)

// Config holds per-provider transport settings. It is loaded once at startup
// and treated as read-only.
type Config struct {
	Name      string // provider name used in errors and logs
	Endpoint  string // full request URL; may point at a reverse proxy
	Timeout   time.Duration
	Retries   int           // total attempts, minimum 1
	BaseDelay time.Duration // delay before attempt n+1 is BaseDelay*n

	ProxyURL    string // optional forward proxy: http, https, socks5
	Impersonate bool   // present a browser TLS fingerprint
	Streaming   bool   // response is an event stream to reassemble
}

func (c Config) attempts() int {
	if c.Retries < 1 {
		return 1
	}
	return c.Retries
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c Config) proxy() (*url.URL, error) {
	if c.ProxyURL == "" {
		return nil, nil
	}
	return url.Parse(c.ProxyURL)
}
