// Package handler implements the HTTP endpoints of the proxy.
package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Every path not claimed by an operational endpoint reaches the proxy, which
// answers preflights and the root banner itself.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.OPTIONS("/healthz", proxy.Preflight)
	e.GET("/proxy/status", health.Status)
	e.OPTIONS("/proxy/status", proxy.Preflight)

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
	// Any only covers echo's fixed method list. The router falls back to the
	// not-found route of the catch-all node for other methods, which would
	// otherwise be answered with 405.
	e.RouteNotFound("/*", proxy.Handle)
}
