package transport

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// NewClient returns the HTTP client strategy the config asks for: a regular
// client, or one that presents a browser TLS fingerprint.
func NewClient(cfg Config) (*http.Client, error) {
	proxyURL, err := cfg.proxy()
	if err != nil {
		return nil, fmt.Errorf("%s: bad proxy url: %w", cfg.Name, err)
	}
	if cfg.Impersonate {
		return newImpersonatingClient(proxyURL)
	}
	return newDirectClient(proxyURL), nil
}

func newDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   10 * time.Second, // TCP connect
		KeepAlive: 30 * time.Second,
	}
}

func newDirectClient(proxyURL *url.URL) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           newDialer().DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		ForceAttemptHTTP2:     true,
	}
	if proxyURL != nil {
		tr.Proxy = http.ProxyURL(proxyURL)
	}
	// Timeout=0: streamed bodies are read for as long as the attempt context allows.
	return &http.Client{Transport: tr}
}
