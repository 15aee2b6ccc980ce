package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"grok-proxy-go/internal/service"
)

// securityHeaders are preset on every response. Relayed upstream responses
// drop them again via ClearSecurityHeaders.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
}

// SecurityHeaders returns an Echo middleware that strips hop-by-hop headers
// (including those named in Connection) from the inbound request and presets
// security headers on the response. The headers are set before the handler
// runs because streamed responses are committed long before it returns.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			service.StripHopByHop(c.Request().Header)

			h := c.Response().Header()
			for k, v := range securityHeaders {
				h.Set(k, v)
			}

			return next(c)
		}
	}
}

// ClearSecurityHeaders removes the headers preset by SecurityHeaders so a
// relayed response carries only what the upstream sent.
func ClearSecurityHeaders(h http.Header) {
	for k := range securityHeaders {
		h.Del(k)
	}
}
