// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"grok-proxy-go/internal/client"
	"grok-proxy-go/internal/config"
	"grok-proxy-go/internal/model"
)

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.x.ai": true,
}

// hopByHopHeaders are connection-scoped and never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// TransportError reports a failure to obtain an upstream response at all.
// Upstream HTTP error statuses are never wrapped in it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client       *client.UpstreamClient
	cfg          *config.Config
	logger       *slog.Logger
	baseURL      *url.URL
	allowedHosts map[string]bool
}

// Option customizes a ProxyService.
type Option func(*ProxyService)

// WithAllowedHosts adds hosts to the upstream allowlist, for example a local
// test server.
func WithAllowedHosts(hosts ...string) Option {
	return func(s *ProxyService) {
		for _, h := range hosts {
			s.allowedHosts[h] = true
		}
	}
}

// NewProxyService creates a ProxyService. The upstream host must be in the
// allowlist.
func NewProxyService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, opts ...Option) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	s := &ProxyService{
		client:       c,
		cfg:          cfg,
		logger:       logger.With("component", "proxy_service"),
		baseURL:      u,
		allowedHosts: make(map[string]bool, len(allowedUpstreamHosts)),
	}
	for h := range allowedUpstreamHosts {
		s.allowedHosts[h] = true
	}
	for _, opt := range opts {
		opt(s)
	}

	if !s.allowedHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}
	return s, nil
}

// Forward sends a ProxyRequest to the upstream API and returns the response.
// The caller is responsible for closing the response body.
//
// A non-nil error is always a *TransportError. Any response the upstream
// produced, whatever its status, is returned with a nil error.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := s.sanitizeRequestHeaders(pr.Header)

	body := pr.Body
	if pr.Method == http.MethodGet || pr.Method == http.MethodHead {
		body = http.NoBody
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"target_path", target.Path,
		"credential_injected", pr.Header.Get("Authorization") == "" && header.Get("Authorization") != "",
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, target.String(), header, body, pr.ContentLength)
	if err != nil {
		return nil, &TransportError{Op: "forward to upstream", Err: err}
	}

	resp.Header = s.sanitizeResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL places the normalized path and the untouched raw query on
// the fixed origin. The origin's scheme and host are never taken from the
// inbound path. escapedPath is the path as it appeared on the wire, so
// escaped reserved characters such as %2F keep their meaning upstream.
func (s *ProxyService) buildUpstreamURL(escapedPath, rawQuery string) *url.URL {
	u := *s.baseURL
	p := strings.TrimSuffix(s.baseURL.EscapedPath(), "/") + NormalizePath(escapedPath)
	if decoded, err := url.PathUnescape(p); err == nil {
		u.Path = decoded
		u.RawPath = p
	} else {
		u.Path = p
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	u.Fragment = ""
	return &u
}

// sanitizeRequestHeaders returns a copy of src fit to send upstream.
// A caller-supplied Authorization header always wins over the configured key.
func (s *ProxyService) sanitizeRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}

	StripHopByHop(dst)
	dst.Del("Host")
	dst.Del("Content-Length")
	if !s.cfg.Upstream.PassthroughEncoding {
		dst.Del("Accept-Encoding")
	}

	if dst.Get("Authorization") == "" && s.cfg.Grok.APIKey != "" {
		dst.Set("Authorization", "Bearer "+s.cfg.Grok.APIKey)
	}
	return dst
}

// sanitizeResponseHeaders drops hop-by-hop headers and, unless the encoding
// is passed through, any Content-Encoding claim for a body the transport
// already decoded.
func (s *ProxyService) sanitizeResponseHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	StripHopByHop(dst)
	if !s.cfg.Upstream.PassthroughEncoding {
		dst.Del("Content-Encoding")
	}
	return dst
}

// StripHopByHop deletes the hop-by-hop set plus any header named in
// Connection. Authorization survives a Connection listing.
func StripHopByHop(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" && !strings.EqualFold(name, "Authorization") {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}
