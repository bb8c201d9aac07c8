package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/model"
	"github.com/pranav-buggana-cal/mba-290t/internal/service"
)

// ForwardHandler passes every /api route without a dedicated handler through
// to the backend unchanged.
type ForwardHandler struct {
	forwarder       *service.Forwarder
	cfg             *config.Config
	logger          *slog.Logger
	unauthenticated map[string]bool
}

// NewForwardHandler creates a ForwardHandler.
func NewForwardHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *ForwardHandler {
	unauthenticated := make(map[string]bool, len(cfg.Proxy.UnauthenticatedPaths))
	for _, p := range cfg.Proxy.UnauthenticatedPaths {
		unauthenticated[p] = true
	}

	return &ForwardHandler{
		forwarder:       f,
		cfg:             cfg,
		logger:          logger.With("component", "forward_handler"),
		unauthenticated: unauthenticated,
	}
}

// Handle proxies any unmatched /api request to the backend. Requests are
// never rejected for a missing Authorization header here; some backend
// routes are public. A missing header on a path outside the configured
// unauthenticated list is logged as an operational signal.
func (h *ForwardHandler) Handle(c echo.Context) error {
	req := c.Request()

	backendPath := strings.TrimPrefix(req.URL.Path, "/api")
	if backendPath == "" {
		backendPath = "/"
	}

	if req.Header.Get("Authorization") == "" && !h.unauthenticated[backendPath] {
		h.logger.Info("forwarding without authorization",
			"method", req.Method,
			"path", backendPath,
		)
	}

	ctx, cancel := context.WithTimeout(req.Context(), h.cfg.Backend.ForwardTimeout())
	defer cancel()

	resp, err := h.forwarder.ForwardGeneric(&model.ProxyRequest{
		Ctx:      ctx,
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return relay(c, resp, h.logger)
}

func (h *ForwardHandler) mapError(c echo.Context, err error) error {
	kind := service.Classify(err)
	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"kind", kind.String(),
		"path", c.Request().URL.Path,
	)

	switch kind {
	case service.KindTimeout:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Proxy Error",
			Message: "the backend did not respond in time, please retry",
		})
	case service.KindCanceled:
		return c.JSON(http.StatusBadGateway, model.ProxyError{
			Error:   "Proxy Error",
			Message: "client disconnected",
		})
	case service.KindBreakerOpen:
		return c.JSON(http.StatusServiceUnavailable, model.ProxyError{
			Error:   "Service Unavailable",
			Message: "the backend is temporarily unavailable, please retry shortly",
		})
	default:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Proxy Error",
			Message: sanitizeError(err),
		})
	}
}
