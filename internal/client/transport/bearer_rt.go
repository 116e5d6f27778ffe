// Package transport contains http.RoundTripper wrappers used by outgoing clients.
package transport

import "net/http"

// BearerRoundTripper adds an Authorization: Bearer header to every request.
type BearerRoundTripper struct {
	Base  http.RoundTripper
	Token string
}

func (b *BearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt := b.Base
	if rt == nil {
		rt = http.DefaultTransport
	}
	if b.Token == "" {
		return rt.RoundTrip(req)
	}

	// RoundTrippers must not modify the caller's request.
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+b.Token)
	return rt.RoundTrip(clone)
}
