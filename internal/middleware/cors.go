// Package middleware provides Echo middleware for CORS, logging, security
// headers and metrics.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
)

// CORS returns an Echo middleware that attaches CORS headers to every
// response, error responses included. Preflight OPTIONS requests are answered
// directly with 204 and never reach a handler or the backend.
//
// The browser frontend and this proxy live on different origins, so a reply
// without these headers is unreadable to the frontend no matter what its
// status code says. That is why the headers go on before the handler runs.
func CORS(cfg *config.CORSConfig) echo.MiddlewareFunc {
	allowMethods := strings.Join(cfg.AllowedMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAgeSeconds)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()

			origin := c.Request().Header.Get("Origin")
			switch {
			case originAllowed(origin, cfg.AllowedOrigins):
				h.Set("Access-Control-Allow-Origin", origin)
			case wildcardAllowed(cfg.AllowedOrigins):
				h.Set("Access-Control-Allow-Origin", "*")
			}

			h.Set("Access-Control-Allow-Methods", allowMethods)
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			if cfg.Credentials() {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Max-Age", maxAge)

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}

// originAllowed reports whether origin is explicitly listed.
func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == origin {
			return true
		}
	}
	return false
}

func wildcardAllowed(allowed []string) bool {
	for _, a := range allowed {
		if a == "*" {
			return true
		}
	}
	return false
}
