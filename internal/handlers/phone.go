package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// PhoneVerificationServiceInterface defines SMS code issue and check
type PhoneVerificationServiceInterface interface {
	SendCode(ctx context.Context, userID, phone string) (*models.PhoneCodeIssued, error)
	VerifyCode(ctx context.Context, userID, phone, code string) error
}

// PhoneHandler handles phone number verification
type PhoneHandler struct {
	service PhoneVerificationServiceInterface
	// genericErrors collapses code failures into one message so callers
	// cannot tell an expired code from a wrong one.
	genericErrors bool
	logger        *slog.Logger
}

func NewPhoneHandler(service PhoneVerificationServiceInterface, genericErrors bool, logger *slog.Logger) *PhoneHandler {
	return &PhoneHandler{service: service, genericErrors: genericErrors, logger: logger}
}

type SendPhoneCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
}

type SendPhoneCodeResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

type VerifyPhoneCodeRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required,e164"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
}

// SendCode texts a fresh verification code
// @Router /phone/send-code [post]
func (h *PhoneHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req SendPhoneCodeRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	issued, err := h.service.SendCode(r.Context(), claims.UserID, req.PhoneNumber)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SendPhoneCodeResponse{Success: true, ExpiresAt: issued.ExpiresAt})
}

// VerifyCode checks a code and marks the number verified
// @Router /phone/verify-code [post]
func (h *PhoneHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req VerifyPhoneCodeRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	err := h.service.VerifyCode(r.Context(), claims.UserID, req.PhoneNumber, req.Code)
	if err != nil {
		if h.genericErrors && isCodeFailure(err) {
			pkghttp.WriteError(w, http.StatusBadRequest, "invalid_code", "Verification failed. Please request a new code and try again.")
			return
		}
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Phone number verified"})
}

func isCodeFailure(err error) bool {
	return errors.Is(err, models.ErrMismatch) ||
		errors.Is(err, models.ErrExpired) ||
		errors.Is(err, models.ErrAttemptsExhausted)
}
