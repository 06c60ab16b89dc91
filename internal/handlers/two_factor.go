package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// TwoFactorServiceInterface defines TOTP enrolment operations
type TwoFactorServiceInterface interface {
	Setup(ctx context.Context, userID, label string) (*models.TwoFactorSetup, error)
	Verify(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error)
	Disable(ctx context.Context, userID, password string) error
	Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
	RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error)
}

// TwoFactorHandler handles two-factor authentication endpoints
type TwoFactorHandler struct {
	service TwoFactorServiceInterface
	logger  *slog.Logger
}

func NewTwoFactorHandler(service TwoFactorServiceInterface, logger *slog.Logger) *TwoFactorHandler {
	return &TwoFactorHandler{service: service, logger: logger}
}

type TwoFactorSetupRequest struct {
	Label string `json:"label" validate:"max=64"`
}

type TwoFactorSetupResponse struct {
	Secret      string   `json:"secret"`
	QRPayload   string   `json:"qr_payload"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

type TwoFactorVerifyResponse struct {
	Success              bool   `json:"success"`
	Message              string `json:"message"`
	UsedBackupCode       bool   `json:"used_backup_code,omitempty"`
	RemainingBackupCodes int    `json:"remaining_backup_codes"`
}

type TwoFactorDisableRequest struct {
	ConfirmationProof string `json:"confirmation_proof" validate:"required,max=128"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Setup starts TOTP enrolment
// @Router /2fa/setup [post]
func (h *TwoFactorHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req TwoFactorSetupRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}

	setup, err := h.service.Setup(r.Context(), claims.UserID, req.Label)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorSetupResponse{
		Secret:      setup.Secret,
		QRPayload:   setup.QRPayload.OTPAuthURL,
		QRCode:      setup.QRPayload.PNGDataURL,
		BackupCodes: setup.BackupCodes,
	})
}

// Verify checks an authenticator or backup code
// @Router /2fa/verify [post]
func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	result, err := h.service.Verify(r.Context(), claims.UserID, req.Code)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	message := "Code verified"
	if result.JustEnabled {
		message = "Two-factor authentication enabled"
	} else if result.UsedBackupCode {
		message = "Backup code accepted"
	}
	pkghttp.WriteJSON(w, http.StatusOK, TwoFactorVerifyResponse{
		Success:              true,
		Message:              message,
		UsedBackupCode:       result.UsedBackupCode,
		RemainingBackupCodes: result.RemainingBackupCodes,
	})
}

// Disable removes two-factor authentication after a password check
// @Router /2fa/disable [post]
func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req TwoFactorDisableRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.ConfirmationProof); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Two-factor authentication disabled"})
}

// @Router /2fa/status [get]
func (h *TwoFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), claims.UserID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// RegenerateBackupCodes issues a new set of backup codes
// @Router /2fa/backup-codes [post]
func (h *TwoFactorHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}
	var req TwoFactorCodeRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), claims.UserID, req.Code)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}
