package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost       = 14 // login passwords
	AnswerBcryptCost = 10 // security question answers
	MinPasswordLen   = 8
	MaxPasswordLen   = 128
)

// ErrWeakPassword is returned by ValidatePassword. The failed rules are kept
// on PasswordPolicyError for logs only.
var ErrWeakPassword = errors.New("invalid password")

// PasswordPolicyError lists every rule a password broke
type PasswordPolicyError struct {
	Rules []string
}

func (e *PasswordPolicyError) Error() string { return ErrWeakPassword.Error() }

func (e *PasswordPolicyError) Unwrap() error { return ErrWeakPassword }

var rejectedPasswords = []string{
	"password", "password1", "password123", "password123!", "passw0rd",
	"12345678", "123456789", "qwerty123", "letmein1", "welcome1",
	"iloveyou", "trustno1", "changeme", "admin123",
}

func isRejected(password string) bool {
	lower := strings.ToLower(password)
	for _, p := range rejectedPasswords {
		if lower == p {
			return true
		}
	}
	return false
}

func HashPassword(password string) (string, error) {
	return HashWithCost(password, BcryptCost)
}

// HashWithCost bcrypt-hashes a non-empty secret at the given cost.
func HashWithCost(secret string, cost int) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("value to hash cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash value: %w", err)
	}
	return string(hashed), nil
}

func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// CompareDummy burns the same bcrypt work as ComparePassword for callers
// that have no stored hash, so unknown accounts are not distinguishable by
// response time. It always returns an error.
func CompareDummy(password string) error {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unknown-account"), BcryptCost)
	})
	if err := bcrypt.CompareHashAndPassword(dummyHash, []byte(password)); err != nil {
		return err
	}
	return bcrypt.ErrMismatchedHashAndPassword
}

// ValidatePassword checks a new account password against the policy
func ValidatePassword(password string) error {
	var broken []string

	if n := len(password); n < MinPasswordLen || n > MaxPasswordLen {
		broken = append(broken, fmt.Sprintf("length must be %d-%d", MinPasswordLen, MaxPasswordLen))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower {
		broken = append(broken, "mixed case")
	}
	if !digit {
		broken = append(broken, "digit")
	}
	if !special {
		broken = append(broken, "special character")
	}
	if isRejected(password) {
		broken = append(broken, "common password")
	}

	if len(broken) > 0 {
		return &PasswordPolicyError{Rules: broken}
	}
	return nil
}
