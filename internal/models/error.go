package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security decision outcomes
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrValidation        = errors.New("invalid input")
	ErrRateLimited       = errors.New("too many attempts")
	ErrExpired           = errors.New("code or window has expired")
	ErrAttemptsExhausted = errors.New("too many verification attempts")
	ErrMismatch          = errors.New("code or answer does not match")
	ErrPersistence       = errors.New("storage failure")

	ErrTwoFactorRequired      = errors.New("two-factor code required")
	ErrTwoFactorNotConfigured = errors.New("two-factor authentication is not configured")
	ErrSessionNotFound        = errors.New("session not found")
	ErrDeliveryFailed         = errors.New("verification code could not be delivered")
)

// RateLimitedError carries the wait time for a locked identity.
type RateLimitedError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// ValidationError wraps ErrValidation with a caller-facing reason.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
