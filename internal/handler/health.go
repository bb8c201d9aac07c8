package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the health endpoint.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Health reports liveness and the configured backend. It never contacts the
// backend: a dead backend is an upstream problem, not a proxy problem.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Competitor analysis proxy is running",
		"target":  h.cfg.Backend.BaseURL,
		"version": string(h.version),
	})
}
