package auth

import (
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager issues and validates access tokens bound to a session id.
// Terminating the session invalidates the token even before it expires.
type TokenManager struct {
	secret            []byte
	accessTokenExpiry time.Duration
	clock             clock.Clock
}

func NewTokenManager(secret string, accessExpiry time.Duration, clk clock.Clock) *TokenManager {
	return &TokenManager{
		secret:            []byte(secret),
		accessTokenExpiry: accessExpiry,
		clock:             clk,
	}
}

// GenerateAccessToken creates an access token for the given session
func (tm *TokenManager) GenerateAccessToken(userID, email, sessionID string) (string, time.Time, error) {
	now := tm.clock.Now()
	expiresAt := now.Add(tm.accessTokenExpiry)

	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.clock.Now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthenticated, err)
	}

	if !token.Valid || claims.Type != models.TokenTypeAccess || claims.SessionID == "" || claims.UserID == "" {
		return nil, models.ErrUnauthenticated
	}

	return claims, nil
}
