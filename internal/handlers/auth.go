package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	Logout(ctx context.Context, userID, sessionID string) error
}

// AuthHandler handles login and logout
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email      string `json:"email" validate:"required,email,max=255"`
	Password   string `json:"password" validate:"required,max=128"`
	DeviceInfo string `json:"device_info" validate:"max=255"`
	Code       string `json:"code" validate:"omitempty,max=16"`
}

// LoginResponse is returned after a successful login
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
}

// Login handles user login
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	deviceInfo := strings.TrimSpace(req.DeviceInfo)
	if deviceInfo == "" {
		deviceInfo = pkghttp.DeviceInfo(r)
	}

	result, err := h.service.Login(r.Context(), models.LoginRequest{
		Email:         req.Email,
		Password:      req.Password,
		TwoFactorCode: req.Code,
		DeviceInfo:    deviceInfo,
		IPAddress:     pkghttp.ExtractClientIP(r, h.ipConfig),
	})
	if err != nil {
		// Every credential failure looks the same to the caller.
		if errors.Is(err, models.ErrMismatch) {
			err = models.ErrUnauthenticated
		}
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LoginResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   result.ExpiresAt,
		SessionID:   result.Session.ID,
		UserID:      result.User.ID,
	})
}

// Logout terminates the caller's current session
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), claims.UserID, claims.SessionID); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Logged out"})
}
