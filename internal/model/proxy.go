// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
)

// ProxyRequest is an inbound request to fetch Target through the proxy.
type ProxyRequest struct {
	Ctx    context.Context
	Target *url.URL
	// Range is the caller's Range header, forwarded upstream so players can seek.
	Range string
}

// UpstreamResponse is the result of fetching a URL after all redirects.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// FinalURL is the URL that produced this response. It is the base for
	// resolving any relative references found in the body.
	FinalURL *url.URL
}

// Success reports whether the upstream answered with a 2xx status.
func (r *UpstreamResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
