// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// Disposition is the handling decided for an inbound request before any
// upstream work happens.
type Disposition int

const (
	// Forward sends the request to the upstream API.
	Forward Disposition = iota
	// Preflight answers a CORS preflight locally.
	Preflight
	// HealthCheck answers with the plain-text liveness banner.
	HealthCheck
)

func (d Disposition) String() string {
	switch d {
	case Preflight:
		return "preflight"
	case HealthCheck:
		return "health_check"
	default:
		return "forward"
	}
}

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	// Path is the escaped request path, as returned by url.URL.EscapedPath.
	Path     string
	RawQuery string
	Header   http.Header
	// ContentLength is the inbound body length, or -1 when unknown.
	ContentLength int64
	Body          io.ReadCloser
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}
