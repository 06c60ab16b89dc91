package models

import "time"

// PhoneVerification is one issued SMS code. Only the most recent unverified
// row for a (user, phone) pair is considered when verifying.
type PhoneVerification struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	PhoneNumber string    `db:"phone_number"`
	CodeHash    string    `db:"code_hash"`
	ExpiresAt   time.Time `db:"expires_at"`
	Attempts    int       `db:"attempts"`
	Verified    bool      `db:"verified"`
	CreatedAt   time.Time `db:"created_at"`
}

// PhoneCodeIssued is returned to the caller after a code is sent.
type PhoneCodeIssued struct {
	ExpiresAt time.Time
}
