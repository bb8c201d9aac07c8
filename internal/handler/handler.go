// Package handler implements the HTTP handlers for each proxy route.
package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/model"
)

// maxErrorBody caps how much of an upstream error body is read into memory
// for message extraction.
const maxErrorBody = 1 << 20

// bearerPattern matches bearer token values in error messages that may
// contain request details.
var bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[^\s"]+`)

// sanitizeError redacts bearer tokens from error messages.
func sanitizeError(err error) string {
	return bearerPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// relay copies the backend response through to the client, streaming the body.
func relay(c echo.Context, resp *model.ProxyResponse, logger *slog.Logger) error {
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the backend body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. This is an inherent trade-off of
	// streaming proxies; the error is logged for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

// readErrorBody drains a bounded prefix of an upstream error response.
func readErrorBody(r io.Reader) []byte {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return nil
	}
	return data
}

// ErrorHandler returns Echo's central error handler. Errors that reach it
// (router 404s, 405s, the body-limit 413, panics recovered by middleware)
// are rendered in the same {error, message} JSON shape the route handlers
// use, so the frontend never sees a second error format.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}

		body := model.ProxyError{Error: http.StatusText(code)}
		if he != nil {
			if m, ok := he.Message.(string); ok && m != body.Error {
				body.Message = m
			}
		}

		if code >= http.StatusInternalServerError {
			logger.Error("request failed",
				"err", sanitizeError(err),
				"path", c.Request().URL.Path,
			)
		}

		if writeErr := c.JSON(code, body); writeErr != nil {
			logger.Error("error response write failed", "err", writeErr)
		}
	}
}
