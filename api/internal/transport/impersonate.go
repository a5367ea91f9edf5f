package transport

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
)

// newImpersonatingClient returns a client whose TLS ClientHello matches a
// current Chrome build. The forward proxy, if any, is dialed by the client
// itself so the fingerprinted handshake runs end to end through the tunnel.
func newImpersonatingClient(proxyURL *url.URL) (*http.Client, error) {
	dial, err := proxyDialer(proxyURL)
	if err != nil {
		return nil, err
	}
	tr := &http.Transport{
		DialContext: dial,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			raw, err := dial(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			conn, err := chromeHandshake(ctx, raw, addr)
			if err != nil {
				_ = raw.Close()
				return nil, err
			}
			return conn, nil
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   20,
		// ALPN is pinned to http/1.1 below, h2 must stay off.
		ForceAttemptHTTP2: false,
	}
	return &http.Client{Transport: tr}, nil
}

func chromeHandshake(ctx context.Context, raw net.Conn, addr string) (*utls.UConn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, err
	}
	pinHTTP1(&spec)

	uc := utls.UClient(raw, &utls.Config{ServerName: host}, utls.HelloCustom)
	if err := uc.ApplyPreset(&spec); err != nil {
		return nil, err
	}
	if err := uc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return uc, nil
}

// pinHTTP1 keeps the Chrome extension order but advertises only http/1.1.
// Workers-style edges fail the h2 ALPN negotiation from non-browser stacks.
func pinHTTP1(spec *utls.ClientHelloSpec) {
	exts := spec.Extensions[:0]
	for _, ext := range spec.Extensions {
		switch e := ext.(type) {
		case *utls.ALPNExtension:
			e.AlpnProtocols = []string{"http/1.1"}
		case *utls.ApplicationSettingsExtension:
			// ALPS only makes sense next to h2
			continue
		}
		exts = append(exts, ext)
	}
	spec.Extensions = exts
}
