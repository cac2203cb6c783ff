// Package handlers defines the HTTP-layer error codes used across all
// API endpoints.
//
// Codes are lowercase snake_case and give clients a stable,
// machine-readable taxonomy alongside the human-readable message.
// Generic codes mirror common HTTP status semantics; the domain codes
// cover pipeline failures that a status alone cannot convey. Field
// validation failures additionally carry a fields map keyed by input
// name.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeEditFailed       = "edit_failed"
	ErrCodeDeleteFailed     = "delete_failed"
	ErrCodeApproveFailed    = "approve_failed"
	ErrCodeMergeFailed      = "merge_failed"
)
