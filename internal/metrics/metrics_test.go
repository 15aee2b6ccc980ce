package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersProxyCollectors(t *testing.T) {
	m := New()

	m.RequestsTotal.WithLabelValues("POST", "200", "/v1").Inc()
	m.UpstreamResponses.WithLabelValues("POST", "429").Inc()
	m.UpstreamFailures.WithLabelValues("POST").Inc()
	m.ResponseBytes.WithLabelValues("/v1").Add(42)

	expected := `
# HELP grok_proxy_upstream_failures_total Upstream calls that failed before a response was received.
# TYPE grok_proxy_upstream_failures_total counter
grok_proxy_upstream_failures_total{method="POST"} 1
`
	if err := testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "grok_proxy_upstream_failures_total"); err != nil {
		t.Error(err)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"grok_proxy_http_requests_total",
		"grok_proxy_upstream_responses_total",
		"grok_proxy_http_response_bytes_total",
		"go_goroutines",
	} {
		if !names[want] {
			t.Errorf("expected %s in gathered metrics", want)
		}
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PATCH", "PATCH"},
		{"OPTIONS", "OPTIONS"},
		{"get", "other"},
		{"PROPFIND", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		if got := NormalizeMethod(tt.method); got != tt.want {
			t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/chat/completions", "/v1"},
		{"/v1", "/v1"},
		{"/chat/completions", "/chat"},
		{"/api/index", "/api/index"},
		{"/healthz", "/healthz"},
		{"/proxy/status", "/proxy/status"},
		{"/metrics", "/metrics"},
		{"/", "/"},
		{"/unknown", "other"},
		{"/v10/models", "other"},
		{"/chatter", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
