// Package transport provides the outbound HTTP clients used by platform
// adapters and the remote function executor.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// TLS FINGERPRINT TRANSPORT
// =============================================================================
//
// Go's standard TLS client has a distinctive fingerprint that triggers
// aggressive rate limiting on some storefront CDNs.
//
// This transport uses uTLS to present a Chrome-like TLS fingerprint:
//
//   1. Use uTLS with HelloChrome_Auto for Chrome's TLS fingerprint
//   2. Probe ALPN once per host and remember the result
//   3. Send every request over exactly one transport (h2 or http/1.1)
//
// A request is never replayed on the other protocol after a failure: a
// purchase POST that reached the server must not be submitted twice.
//
// =============================================================================

// Options configures NewClient.
type Options struct {
	Timeout time.Duration
	// Fingerprint selects the Chrome TLS transport. Otherwise the standard
	// library transport is used.
	Fingerprint bool
	// UserAgent is set on requests that do not carry one.
	UserAgent string
}

// NewClient builds an http.Client for calling platform APIs.
func NewClient(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	var rt http.RoundTripper
	if opts.Fingerprint {
		rt = NewChromeTransport(opts.Timeout)
	} else {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.UserAgent != "" {
		rt = &userAgent{next: rt, ua: opts.UserAgent}
	}
	return &http.Client{Timeout: opts.Timeout, Transport: rt}
}

type userAgent struct {
	next http.RoundTripper
	ua   string
}

func (u *userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", u.ua)
	}
	return u.next.RoundTrip(req)
}

// NewChromeTransport creates an http.RoundTripper that presents Chrome's TLS
// fingerprint to upstream servers. Plain http requests use a standard
// transport.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout}

	h2Transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
	}

	h1Transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr)
		},
		ForceAttemptHTTP2: false,
	}

	return &chromeTransport{
		dialer: dialer,
		h2:     h2Transport,
		h1:     h1Transport,
		plain:  &http.Transport{DialContext: dialer.DialContext},
	}
}

// chromeTransport routes each host to the protocol its server negotiated.
type chromeTransport struct {
	dialer *net.Dialer
	h2     *http2.Transport
	h1     *http.Transport
	plain  *http.Transport

	mu    sync.Mutex
	proto map[string]string // host:port -> negotiated ALPN
}

// RoundTrip implements http.RoundTripper.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}
	proto, err := t.negotiated(req.Context(), hostPort(req))
	if err != nil {
		return nil, err
	}
	if proto == "h2" {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

// negotiated returns the cached ALPN result for addr, probing on first use.
func (t *chromeTransport) negotiated(ctx context.Context, addr string) (string, error) {
	t.mu.Lock()
	p, ok := t.proto[addr]
	t.mu.Unlock()
	if ok {
		return p, nil
	}

	conn, err := dialChromeTLS(ctx, t.dialer, "tcp", addr)
	if err != nil {
		return "", err
	}
	p = conn.(*utls.UConn).ConnectionState().NegotiatedProtocol
	conn.Close()

	t.mu.Lock()
	if t.proto == nil {
		t.proto = make(map[string]string)
	}
	t.proto[addr] = p
	t.mu.Unlock()
	return p, nil
}

func hostPort(req *http.Request) string {
	host := req.URL.Host
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "443")
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
// The h1 transport is only used for hosts whose probe did not select h2, so
// the default ALPN offer (h2, http/1.1) settles on http/1.1 there too.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	return tlsConn, nil
}
