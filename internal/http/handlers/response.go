// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by every endpoint: the
// ErrorResponse envelope, fail/Fail for error paths, failErr for mapping
// service errors onto status codes, and ok/noContent for success paths.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-store/internal/export"
	"github.com/tbourn/go-chat-store/internal/http/middleware"
	"github.com/tbourn/go-chat-store/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code"`
	// Human-readable message
	Message string `json:"message"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router's NoRoute/NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr translates a service error into the matching status and code.
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidQuery):
		fail(c, http.StatusBadRequest, ErrCodeInvalidQuery, err.Error())
		return
	case errors.Is(err, services.ErrUnsupportedFormat), errors.Is(err, export.ErrUnsupportedFormat):
		fail(c, http.StatusBadRequest, ErrCodeUnsupported, err.Error())
		return
	case errors.Is(err, services.ErrInvalidMessage), errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusBadRequest, ErrCodeInvalidMessage, err.Error())
		return
	case errors.Is(err, services.ErrNotReady), errors.Is(err, services.ErrNotInitialized),
		errors.Is(err, services.ErrHistoryDisabled):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}

	switch services.ResultOf(err) {
	case services.NotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case services.AlreadyExists:
		fail(c, http.StatusConflict, ErrCodeConflict, "message already exists")
	case services.PermissionDenied:
		fail(c, http.StatusForbidden, ErrCodeForbidden, "storage is read-only")
	case services.StorageFull:
		fail(c, http.StatusInsufficientStorage, ErrCodeStorageFull, "storage full")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
