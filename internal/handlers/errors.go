package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

const maxBodyBytes = 1 << 20

// WriteServiceError maps a service error to a status code and a message
// that is safe to show the caller. Unexpected errors are logged, never
// echoed.
func WriteServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		rateErr       *models.RateLimitedError
		validationErr *models.ValidationError
	)

	switch {
	case errors.As(err, &rateErr):
		pkghttp.WriteRetryAfter(w, rateErr.RetryAfter, rateErr.Error())
	case errors.Is(err, models.ErrRateLimited):
		pkghttp.WriteTooManyRequests(w, "Too many attempts. Please try again later.")
	case errors.As(err, &validationErr):
		pkghttp.WriteBadRequest(w, validationErr.Reason)
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrExpired):
		pkghttp.WriteError(w, http.StatusBadRequest, "expired", "The code has expired. Please request a new one.")
	case errors.Is(err, models.ErrAttemptsExhausted):
		pkghttp.WriteError(w, http.StatusBadRequest, "attempts_exhausted", "Too many attempts. Please request a new code.")
	case errors.Is(err, models.ErrMismatch):
		pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "The code or answer is incorrect.")
	case errors.Is(err, models.ErrTwoFactorRequired):
		pkghttp.WriteError(w, http.StatusUnauthorized, "two_factor_required", "A two-factor authentication code is required.")
	case errors.Is(err, models.ErrUnauthenticated):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrTwoFactorNotConfigured):
		pkghttp.WriteError(w, http.StatusBadRequest, "two_factor_not_configured", "Two-factor authentication is not set up.")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteNotFound(w, "Session not found")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "The request conflicts with the current state")
	case errors.Is(err, models.ErrDeliveryFailed):
		logger.ErrorContext(r.Context(), "delivery failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "The verification code could not be delivered. Please try again.")
	default:
		logger.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// decodeAndValidate reads a JSON body into dst and validates it. An empty
// body is accepted when allowEmpty is set. It writes the 400 itself.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(dst); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// requireClaims returns the caller's token claims or writes a 401
func requireClaims(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, bool) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return nil, false
	}
	return claims, true
}

// SuccessResponse is the body of actions that return nothing else
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
