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

// AnalyzeHandler proxies analysis queries, the longest-running route in the
// system.
type AnalyzeHandler struct {
	forwarder *service.Forwarder
	cfg       *config.Config
	logger    *slog.Logger
}

// NewAnalyzeHandler creates an AnalyzeHandler.
func NewAnalyzeHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		forwarder: f,
		cfg:       cfg,
		logger:    logger.With("component", "analyze_handler"),
	}
}

// Handle proxies POST /api/analyze-competitors.
func (h *AnalyzeHandler) Handle(c echo.Context) error {
	authorization := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(authorization, "Bearer ") || strings.TrimSpace(strings.TrimPrefix(authorization, "Bearer ")) == "" {
		return c.JSON(http.StatusUnauthorized, model.ProxyError{
			Error:   "Authentication required",
			Message: "Bearer token missing or malformed",
		})
	}

	query := c.QueryParam("query")
	if strings.TrimSpace(query) == "" {
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error:   "Missing query parameter",
			Message: "query must be a non-empty string",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.Backend.AnalysisTimeout())
	defer cancel()

	resp, err := h.forwarder.ForwardAnalysis(ctx, query, authorization)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return relay(c, resp, h.logger)
	}

	message := model.ExtractBackendMessage(readErrorBody(resp.Body), "analysis request failed")
	h.logger.Warn("analysis rejected by backend",
		"status", resp.StatusCode,
	)
	return c.JSON(resp.StatusCode, model.ProxyError{
		Error:   "Analysis Failed",
		Message: message,
		Status:  resp.StatusCode,
	})
}

func (h *AnalyzeHandler) mapError(c echo.Context, err error) error {
	kind := service.Classify(err)
	h.logger.Error("analysis forwarding failed",
		"err", sanitizeError(err),
		"kind", kind.String(),
	)

	switch kind {
	case service.KindTimeout:
		return c.JSON(http.StatusGatewayTimeout, model.ProxyError{
			Error:   "Gateway Timeout",
			Message: "The analysis request timed out. Try a simpler query or try again later.",
		})
	case service.KindReset:
		return c.JSON(http.StatusBadGateway, model.ProxyError{
			Error:   "Bad Gateway",
			Message: "The connection to the analysis service was reset before a response was received.",
		})
	case service.KindBreakerOpen:
		return c.JSON(http.StatusServiceUnavailable, model.ProxyError{
			Error:   "Analysis Failed",
			Message: "The analysis service is temporarily unavailable, please retry shortly",
		})
	default:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Analysis Failed",
			Message: sanitizeError(err),
		})
	}
}
