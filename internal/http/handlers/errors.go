// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them rather
// than on the message text. Store results map one-to-one onto a code (see
// failErr in response.go).
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "already_exists",
//	  "message": "message already exists"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "already_exists"
	ErrCodeForbidden        = "permission_denied"
	ErrCodeStorageFull      = "storage_full"
	ErrCodeUnavailable      = "unavailable"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeInvalidQuery   = "invalid_query"
	ErrCodeUnsupported    = "unsupported_format"
	ErrCodeFiltered       = "filtered"
	ErrCodeQueueFull      = "queue_full"
	ErrCodeMissingUser    = "missing_user"
)
