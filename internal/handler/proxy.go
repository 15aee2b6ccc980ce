package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"grok-proxy-go/internal/client"
	"grok-proxy-go/internal/middleware"
	"grok-proxy-go/internal/model"
	"grok-proxy-go/internal/service"
)

// HealthBanner is the plain-text body returned by the health check.
const HealthBanner = "Grok Proxy is running. Point your client to " + service.DefaultEndpoint

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, X-Requested-With"
)

const relayBufferSize = 32 * 1024

// ProxyHandler forwards API requests to the upstream Grok API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle classifies the request and either answers it locally or proxies it
// to the upstream API, streaming the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	switch service.Classify(req.Method, req.URL.Path) {
	case model.Preflight:
		return h.Preflight(c)
	case model.HealthCheck:
		return h.Banner(c)
	}

	// Let the upload keep streaming after response headers go out.
	if err := http.NewResponseController(c.Response()).EnableFullDuplex(); err != nil {
		h.logger.Debug("full duplex unavailable", "err", err)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		ContentLength: req.ContentLength,
		Body:          req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp)
	return nil
}

// Preflight answers a CORS preflight without contacting the upstream.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	header := c.Response().Header()
	header.Set(echo.HeaderAccessControlAllowOrigin, "*")
	header.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
	header.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)
	return c.NoContent(http.StatusNoContent)
}

// Banner answers the root health check.
func (h *ProxyHandler) Banner(c echo.Context) error {
	return c.String(http.StatusOK, HealthBanner)
}

// relay copies the upstream status and headers, forces the CORS origin and
// streams the body, flushing after every read so server-sent events reach the
// caller as they are produced.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse) {
	res := c.Response()
	middleware.ClearSecurityHeaders(res.Header())
	for key, vals := range resp.Header {
		res.Header().Del(key)
		for _, v := range vals {
			res.Header().Add(key, v)
		}
	}
	res.Header().Set(echo.HeaderAccessControlAllowOrigin, "*")

	res.WriteHeader(resp.StatusCode)
	res.Flush()

	// If the copy fails mid-stream (e.g. client disconnect, network error),
	// the status code has already been sent, so the client receives a
	// truncated response with the original status. Log it for observability.
	if _, err := copyFlush(res, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
			"request_id", res.Header().Get(echo.HeaderXRequestID),
		)
	}
}

// copyFlush is io.Copy with a flush after each write.
func copyFlush(dst *echo.Response, src io.Reader) (int64, error) {
	buf := make([]byte, relayBufferSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				return total, writeErr
			}
			dst.Flush()
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return total, nil
			}
			return total, readErr
		}
	}
}

// mapError converts a transport failure into the uniform JSON 500 response.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
		"timeout", client.IsTimeout(err),
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	msg := "Internal Proxy Error"
	var te *service.TransportError
	if errors.As(err, &te) {
		msg = te.Err.Error()
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": msg,
	})
}
