package models

import (
	"time"
)

// User is the slice of the identity store this service reads and writes.
type User struct {
	ID            string
	Email         string
	PasswordHash  string
	PhoneNumber   *string
	PhoneVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
