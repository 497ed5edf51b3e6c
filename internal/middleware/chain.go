package middleware

import (
	"net/http"
)

// Interceptor observes and decorates outgoing requests
type Interceptor interface {
	// BeforeSend returns request to send instead of r
	// Implementations must not modify r, clone it instead
	BeforeSend(r *http.Request) *http.Request

	// OnResponse is called with the request actually sent and the transport result
	OnResponse(r *http.Request, resp *http.Response, err error)
}

type chain struct {
	base         http.RoundTripper
	interceptors []Interceptor
}

// Chain wraps base transport with interceptors
// BeforeSend hooks run in given order, OnResponse hooks in reverse one
func Chain(base http.RoundTripper, interceptors ...Interceptor) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &chain{base: base, interceptors: interceptors}
}

func (c *chain) RoundTrip(r *http.Request) (*http.Response, error) {
	sent := make([]*http.Request, len(c.interceptors))
	for i, in := range c.interceptors {
		r = in.BeforeSend(r)
		sent[i] = r
	}

	resp, err := c.base.RoundTrip(r)

	for i := len(c.interceptors) - 1; i >= 0; i-- {
		c.interceptors[i].OnResponse(sent[i], resp, err)
	}

	return resp, err
}
