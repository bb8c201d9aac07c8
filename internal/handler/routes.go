package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The static
// routes win over the /api/* catch-all, so only unrecognized paths fall
// through to the generic forwarder.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	m *metrics.Metrics,
	token *TokenHandler,
	upload *UploadHandler,
	analyze *AnalyzeHandler,
	forward *ForwardHandler,
	health *HealthHandler,
) {
	e.GET("/health", health.Health)

	e.POST("/api/token", token.Handle)
	e.POST("/api/upload-documents", upload.Handle)
	e.POST("/api/analyze-competitors", analyze.Handle)

	e.Any("/api", forward.Handle)
	e.Any("/api/*", forward.Handle)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
