// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response helpers shared by all JSON endpoints: the
// error envelope, fail() and the mapping from service errors to statuses.
// The event-stream endpoint POST /api/chat uses its own failure shapes (401
// with an empty body, 404 with a plain-text reason) and only falls back to the
// envelope for malformed requests.
//
// Example error response:
//
//	HTTP/1.1 404 Not Found
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_found",
//	  "message": "conversation not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-tutor-chat/internal/http/middleware"
	"github.com/tbourn/go-tutor-chat/internal/services"
)

// ErrorResponse is the standard error envelope returned by JSON endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"conversation not found"`
}

// fail aborts the request with an ErrorResponse. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for router-level handlers
// (NoRoute, NoMethod).
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failService maps a service error to an envelope. Unknown errors become a
// 500 with fallbackCode; their text is logged, not returned.
func failService(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		c.AbortWithStatus(http.StatusUnauthorized)
	case errors.Is(err, services.ErrBotNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrBotNotFound.Error())
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, services.ErrConversationNotFound.Error())
	case errors.Is(err, services.ErrEmptyHistory),
		errors.Is(err, services.ErrInvalidRole),
		errors.Is(err, services.ErrTurnTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrProviderUnavailable):
		fail(c, http.StatusServiceUnavailable, ErrCodeProviderUnavailable, "completion provider unavailable")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, fallbackCode, "internal error")
	}
}

// ok writes a success JSON response.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
