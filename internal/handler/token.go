package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/model"
	"github.com/pranav-buggana-cal/mba-290t/internal/service"
)

// TokenHandler exchanges frontend credentials for a backend bearer token.
type TokenHandler struct {
	forwarder *service.Forwarder
	cfg       *config.Config
	logger    *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		forwarder: f,
		cfg:       cfg,
		logger:    logger.With("component", "token_handler"),
	}
}

type credentials struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Handle proxies POST /api/token. Credentials arrive as JSON or form data
// and leave as the form body the backend's OAuth2 password flow expects.
// They are never persisted and never logged.
func (h *TokenHandler) Handle(c echo.Context) error {
	var creds credentials
	if err := c.Bind(&creds); err != nil || creds.Username == "" || creds.Password == "" {
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error: "Missing credentials",
		})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.Backend.TokenTimeout())
	defer cancel()

	resp, err := h.forwarder.ForwardToken(ctx, creds.Username, creds.Password)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return relay(c, resp, h.logger)
	}

	// The backend rejected the credentials. Relay its status but normalize
	// the body shape so the frontend always sees {error, message}.
	message := model.ExtractBackendMessage(readErrorBody(resp.Body), "Invalid credentials")
	h.logger.Warn("authentication rejected by backend",
		"status", resp.StatusCode,
	)
	return c.JSON(resp.StatusCode, model.ProxyError{
		Error:   "Authentication failed",
		Message: message,
	})
}

func (h *TokenHandler) mapError(c echo.Context, err error) error {
	kind := service.Classify(err)
	h.logger.Error("token exchange failed",
		"err", sanitizeError(err),
		"kind", kind.String(),
	)

	switch kind {
	case service.KindTimeout:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Authentication failed",
			Message: "Authentication service may be overloaded, please try again",
		})
	case service.KindRefused:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Authentication failed",
			Message: "Could not connect to authentication service",
		})
	case service.KindBreakerOpen:
		return c.JSON(http.StatusServiceUnavailable, model.ProxyError{
			Error:   "Authentication failed",
			Message: "Authentication service is temporarily unavailable, please retry shortly",
		})
	default:
		return c.JSON(http.StatusInternalServerError, model.ProxyError{
			Error:   "Authentication failed",
			Message: sanitizeError(err),
		})
	}
}
