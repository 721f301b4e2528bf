// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them for
// programmatic error handling while the message stays human-readable.
// Generic codes mirror common HTTP status semantics; domain-specific codes
// cover outcomes a status alone cannot convey (a busy contact, a gateway
// that refused the message).
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Domain-specific:

	// ErrCodeLockTimeout: another send to the same contact is in flight and
	// did not finish within the lock timeout. Retry after a short delay.
	ErrCodeLockTimeout = "lock_timeout"

	// ErrCodeSendFailed: the messaging gateway rejected the message or was
	// unreachable.
	ErrCodeSendFailed = "send_failed"
)
