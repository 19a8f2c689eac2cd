// Package httpclient builds the client used for outbound calls to the spatial engine.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	// Timeout bounds a whole request; zero means 30s.
	Timeout time.Duration
	// UserAgent is set on requests that do not carry one.
	UserAgent string
}

// NewOutbound creates a pooled client for upstream calls.
func NewOutbound(o Options) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var rt http.RoundTripper = transport
	if o.UserAgent != "" {
		rt = userAgent{base: transport, ua: o.UserAgent}
	}
	return &http.Client{Transport: rt, Timeout: timeout}
}

type userAgent struct {
	base http.RoundTripper
	ua   string
}

func (t userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(r)
}
