// Package handlers provides the HTTP handlers of the broadcast service.
//
// Two response shapes are in use:
//
//   - The invocation endpoint (POST /telegram-integration) consumed by the
//     admin frontend answers with InvokeResponse:
//     {"success": true, "data": {...}, "stats": {...}} or
//     {"success": false, "error": "..."}.
//   - The admin REST endpoints answer with plain JSON bodies on success and
//     with ErrorResponse {"request_id", "code", "message"} on failure.
//
// fail() and invokeFail() log server-side failures with the request-scoped
// logger so every 5xx or failed action can be traced back by request id.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/http/middleware"
)

// ErrorResponse is the error envelope of the admin REST endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message
	Message string `json:"message" example:"subscription not found"`
}

// InvokeResponse is the envelope of the invocation endpoint.
type InvokeResponse struct {
	Success bool   `json:"success" example:"true"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty" example:"telegram integration is not configured"`
	Stats   any    `json:"stats,omitempty"`
}

// fail aborts the request with an ErrorResponse. 5xx are logged.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail() for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// invokeOK answers 200 with success:true.
func invokeOK(c *gin.Context, data, stats any) {
	c.JSON(http.StatusOK, InvokeResponse{Success: true, Data: data, Stats: stats})
}

// invokeFail answers with success:false. Business and provider failures use
// 200; only malformed requests use 400.
func invokeFail(c *gin.Context, status int, action string, err error, stats any) {
	lg := middleware.LoggerFrom(c)
	ev := lg.Warn()
	if status >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Err(err).Str("action", action).Msg("telegram integration action failed")
	c.AbortWithStatusJSON(status, InvokeResponse{Success: false, Error: err.Error(), Stats: stats})
}
