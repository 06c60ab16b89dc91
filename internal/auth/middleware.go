package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing token claims in context
	UserContextKey contextKey = "user"
)

// SessionAuthorizer decides whether the session behind a token is still live.
// With touch set, a live session also has its activity recorded.
type SessionAuthorizer interface {
	Authorize(ctx context.Context, userID, sessionID string, touch bool) error
}

// Authenticator validates bearer tokens and the session they are bound to
type Authenticator struct {
	tokens   *TokenManager
	sessions SessionAuthorizer
	logger   *slog.Logger
}

func NewAuthenticator(tokens *TokenManager, sessions SessionAuthorizer, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, sessions: sessions, logger: logger}
}

// Middleware authenticates the request and counts it as session activity
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return a.handler(next, true)
}

// Passive authenticates without refreshing activity, for status polling
func (a *Authenticator) Passive(next http.Handler) http.Handler {
	return a.handler(next, false)
}

func (a *Authenticator) handler(next http.Handler, touch bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r)
		if !ok {
			pkghttp.WriteUnauthorized(w, "Missing or malformed authorization header")
			return
		}

		claims, err := a.tokens.ValidateToken(tokenString)
		if err != nil {
			pkghttp.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		if err := a.sessions.Authorize(r.Context(), claims.UserID, claims.SessionID, touch); err != nil {
			switch {
			case errors.Is(err, models.ErrExpired):
				pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Your session has expired due to inactivity")
			case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrUnauthenticated):
				pkghttp.WriteUnauthorized(w, "Session is no longer active")
			default:
				a.logger.Error("session authorization failed",
					slog.String("session_id", claims.SessionID),
					slog.Any("error", err),
				)
				pkghttp.WriteInternalError(w, "Unable to verify session")
			}
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// GetUserFromContext extracts token claims from request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims returns a context carrying claims, for handler tests
func WithClaims(ctx context.Context, claims *models.TokenClaims) context.Context {
	return context.WithValue(ctx, UserContextKey, claims)
}
