package service

import (
	"net/http"
	"strings"

	"grok-proxy-go/internal/model"
)

const (
	// IndexPath is where serverless hosts land requests for unmatched routes.
	IndexPath = "/api/index"
	// DefaultEndpoint is the upstream path used for requests arriving on IndexPath.
	DefaultEndpoint = "/v1/chat/completions"

	versionPrefix = "/v1"
)

// shortFormPrefixes are unversioned prefixes that gain versionPrefix.
var shortFormPrefixes = []string{"/chat"}

// PathRule rewrites an inbound path. ok reports whether the rule applied;
// the first applicable rule wins.
type PathRule func(path string) (out string, ok bool)

// pathRules is evaluated in order. The last rule always applies.
var pathRules = []PathRule{
	indexRule,
	versionedRule,
	shortFormRule,
	passthroughRule,
}

func indexRule(path string) (string, bool) {
	if path == IndexPath {
		return DefaultEndpoint, true
	}
	return "", false
}

func versionedRule(path string) (string, bool) {
	if strings.HasPrefix(path, versionPrefix) {
		return path, true
	}
	return "", false
}

func shortFormRule(path string) (string, bool) {
	for _, prefix := range shortFormPrefixes {
		if strings.HasPrefix(path, prefix) {
			return versionPrefix + path, true
		}
	}
	return "", false
}

// passthroughRule forwards anything unrecognised as-is. The upstream decides
// whether such a path is valid.
func passthroughRule(path string) (string, bool) {
	return path, true
}

// NormalizePath maps an inbound path to the upstream path.
func NormalizePath(path string) string {
	if path == "" {
		path = "/"
	}
	for _, rule := range pathRules {
		if out, ok := rule(path); ok {
			return out
		}
	}
	return path
}

// Classify decides how a request is handled from its method and path alone.
// The health banner is matched on the normalized path, so IndexPath is
// forwarded to DefaultEndpoint rather than answered locally.
func Classify(method, path string) model.Disposition {
	if method == http.MethodOptions {
		return model.Preflight
	}
	if NormalizePath(path) == "/" {
		return model.HealthCheck
	}
	return model.Forward
}
