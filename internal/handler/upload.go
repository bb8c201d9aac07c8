package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pranav-buggana-cal/mba-290t/internal/config"
	"github.com/pranav-buggana-cal/mba-290t/internal/model"
	"github.com/pranav-buggana-cal/mba-290t/internal/service"
)

// UploadHandler streams multipart document uploads through disk staging to
// the backend.
type UploadHandler struct {
	stager    *service.Stager
	forwarder *service.Forwarder
	cfg       *config.Config
	logger    *slog.Logger
}

// NewUploadHandler creates an UploadHandler.
func NewUploadHandler(s *service.Stager, f *service.Forwarder, cfg *config.Config, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{
		stager:    s,
		forwarder: f,
		cfg:       cfg,
		logger:    logger.With("component", "upload_handler"),
	}
}

// Handle proxies POST /api/upload-documents.
//
// The authorization check runs before the body is touched: an unauthenticated
// request must not cost a single disk write. The body is then consumed as a
// multipart stream into a per-request staging directory and re-encoded with a
// fresh boundary on the way out.
func (h *UploadHandler) Handle(c echo.Context) error {
	authorization := c.Request().Header.Get("Authorization")
	if authorization == "" {
		return c.JSON(http.StatusUnauthorized, model.ProxyError{
			Error: "Missing authorization header",
		})
	}

	mr, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error:   "Invalid upload",
			Message: "request body must be multipart/form-data",
		})
	}

	staged, fileType, err := h.stager.Stage(mr)
	if err != nil {
		return h.mapStageError(c, err)
	}
	// Backstop for the error paths below; the explicit Release after the
	// relay is the normal exit. Release is idempotent.
	defer staged.Release()

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.cfg.Backend.UploadTimeout())
	defer cancel()

	resp, err := h.forwarder.ForwardUpload(ctx, staged, fileType, authorization)
	if err != nil {
		return h.mapTransportError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	err = relay(c, resp, h.logger)
	staged.Release()
	return err
}

// mapStageError converts staging failures into client-facing responses. The
// stager has already removed any partially staged files.
func (h *UploadHandler) mapStageError(c echo.Context, err error) error {
	var tooLarge *service.FileTooLargeError
	if errors.As(err, &tooLarge) {
		return c.JSON(http.StatusRequestEntityTooLarge, model.ProxyError{
			Error:   "File too large",
			Message: fmt.Sprintf("%s exceeds the %d byte limit", tooLarge.Name, tooLarge.Limit),
		})
	}

	var empty *service.EmptyFileError
	if errors.As(err, &empty) {
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error:   "Empty file",
			Message: fmt.Sprintf("%s is empty", empty.Name),
		})
	}

	switch {
	case errors.Is(err, service.ErrInvalidFileType):
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error:   "Invalid file type",
			Message: "file_type must be 'competitor' or 'business'",
		})
	case errors.Is(err, service.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error: "No files provided",
		})
	case errors.Is(err, service.ErrInvalidUpload):
		return c.JSON(http.StatusBadRequest, model.ProxyError{
			Error:   "Invalid upload",
			Message: "multipart stream was malformed or interrupted",
		})
	}

	h.logger.Error("staging upload failed", "err", err)
	return c.JSON(http.StatusInternalServerError, model.ProxyError{
		Error:   "Upload failed",
		Message: "could not stage upload",
	})
}

func (h *UploadHandler) mapTransportError(c echo.Context, err error) error {
	kind := service.Classify(err)
	h.logger.Error("upload forwarding failed",
		"err", sanitizeError(err),
		"kind", kind.String(),
	)

	if kind == service.KindBreakerOpen {
		return c.JSON(http.StatusServiceUnavailable, model.ProxyError{
			Error:   "Upload failed",
			Message: "The document service is temporarily unavailable, please retry shortly",
		})
	}

	message := sanitizeError(err)
	switch kind {
	case service.KindReset:
		message = "Connection reset - the document service may have crashed or timed out"
	case service.KindRefused:
		message = "Could not connect to the document service"
	case service.KindTimeout:
		message = "The document service may be overloaded, please try again"
	}

	return c.JSON(http.StatusInternalServerError, model.ProxyError{
		Error:   "Upload failed",
		Message: message,
	})
}
