package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to API callers
var (
	ErrAlreadyEnrolled = errors.New("prospect already has an active enrollment in this sequence")
	ErrLimitExceeded   = errors.New("email sending limit exceeded")
)

// ValidationError reports a bad sequence or step configuration. It is
// surfaced to the caller as a 400 and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GenerationError wraps a failed or timed-out AI generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("email generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SendError wraps a failed or timed-out SMTP dispatch.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("email send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
