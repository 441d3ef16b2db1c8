package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"fusionbrain-proxy-go/internal/model"
	"fusionbrain-proxy-go/internal/service"
)

// ProxyHandler forwards every unmatched request to the upstream API.
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

// Handle proxies the request upstream and writes back the rewritten response
// with the upstream status code and headers.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	if req.Method == http.MethodHead || len(resp.Body) == 0 {
		c.Response().WriteHeader(resp.StatusCode)
		return nil
	}

	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(resp.Body)))
	c.Response().WriteHeader(resp.StatusCode)

	// Status is already committed; a failed write means the client went away.
	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Warn("writing response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError turns an upstream failure into a JSON error envelope.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	details := err.Error()

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, errorBody("client disconnected", details))
	}

	if isTimeout(err) {
		return c.JSON(http.StatusGatewayTimeout, errorBody("upstream request timed out", details))
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, errorBody("upstream host unreachable", details))
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return c.JSON(http.StatusBadGateway, errorBody("upstream connection failed", details))
	}

	return c.JSON(http.StatusInternalServerError, errorBody("upstream request failed", details))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
