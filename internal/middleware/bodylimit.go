package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps the inbound body for routes whose bodies are held in
// memory. Paths in skip are exempt: multipart uploads stream to disk under a
// per-file ceiling, so a whole-body cap would reject valid multi-file sets.
func BodyLimit(maxBytes int64, skip ...string) echo.MiddlewareFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Skipper: func(c echo.Context) bool {
			return skipped[c.Request().URL.Path]
		},
		Limit: fmt.Sprintf("%dB", maxBytes),
	})
}
