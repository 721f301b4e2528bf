// Package services defines the business logic for drafting replies and
// delivering outbound messages. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrEmptyMessage is returned when an inbound event carries no usable
	// message text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrHumanHandoff indicates the contact is flagged for human follow-up;
	// the bot does not reply until an operator clears the flag.
	ErrHumanHandoff = errors.New("contact awaits human follow-up")

	// ErrReplyFailed wraps failures of the language model call; the inbound
	// message is already persisted when this is returned.
	ErrReplyFailed = errors.New("reply generation failed")

	// ErrSendFailed wraps gateway delivery failures. The per-contact lock has
	// already been released when this is returned.
	ErrSendFailed = errors.New("message delivery failed")
)
