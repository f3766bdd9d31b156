// Package handlers defines HTTP-layer error codes used by the admin REST
// endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on messages. The invocation endpoint does not use codes: it answers
// with {"success": false, "error": "<message>"} instead.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeNotConfigured = "not_configured"
	ErrCodeProvider      = "provider_error"
	ErrCodeListFailed    = "list_failed"
	ErrCodeUpdateFailed  = "update_failed"
)
