package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const TokenTypeAccess = "access"

// TokenClaims binds an access token to the session it was issued for.
type TokenClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// LoginRequest is the service-level input of a login attempt.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
	DeviceInfo    string
	IPAddress     string
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Session     *ActiveSession
	User        *User
}
