package models

import "time"

// LoginAttemptRecord tracks consecutive failed logins for one identity key.
// LockoutUntil never moves backwards while failures accumulate; it is
// cleared together with FailureCount on success or once it has passed.
type LoginAttemptRecord struct {
	IdentityKey  string     `db:"identity_key"`
	FailureCount int        `db:"failure_count"`
	LockoutUntil *time.Time `db:"lockout_until"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// IsLocked reports whether the record denies attempts at now.
func (r *LoginAttemptRecord) IsLocked(now time.Time) bool {
	return r.LockoutUntil != nil && now.Before(*r.LockoutUntil)
}

// Clear resets the failure counter and lockout.
func (r *LoginAttemptRecord) Clear() {
	r.FailureCount = 0
	r.LockoutUntil = nil
}

// LockoutDecision is the result of gating a login attempt.
type LockoutDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// LockoutResult is the result of recording a failed login.
type LockoutResult struct {
	Locked       bool
	RetryAfter   time.Duration
	FailureCount int
	Message      string
}
