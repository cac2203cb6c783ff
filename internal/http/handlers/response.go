// Package handlers provides the HTTP handler implementations for the
// public API.
//
// This file defines the standard response utilities: a structured error
// envelope, consistent JSON serialization, and helpers for the common
// success/failure patterns. All error responses carry a stable `code`;
// validation failures additionally carry a `fields` map keyed by input
// name. 5xx responses are logged with request context.
//
// Example error response:
//
//	HTTP/1.1 422 Unprocessable Entity
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "validation_failed",
//	  "message": "message: please enter a valid message",
//	  "fields": {"message": "please enter a valid message"}
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quillforum/backend/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all
// endpoints. RequestID correlates server logs with client errors; Code
// is a stable machine-readable string (see errors.go); Message is safe
// to show to users; Fields is present only on validation failures.
type ErrorResponse struct {
	RequestID string            `json:"request_id,omitempty"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// fail aborts the request with a structured error, logging server-side
// (5xx) failures via the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	failFields(c, status, code, msg, nil)
}

func failFields(c *gin.Context, status int, code, msg string, fields map[string]string) {
	reqID := c.Writer.Header().Get("X-Request-ID")
	resp := ErrorResponse{
		RequestID: reqID,
		Code:      code,
		Message:   msg,
		Fields:    fields,
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

// Fail is the exported variant of fail() for use by router setup (e.g.
// NoRoute handlers) without exposing the unexported helpers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// ok writes a success JSON response with the given status.
func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// noContent writes an HTTP 204 No Content response.
func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
