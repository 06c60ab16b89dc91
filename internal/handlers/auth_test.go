package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/carebridge/accountsec/internal/handlers"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_Success(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	var got models.LoginRequest
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
			got = req
			return &models.LoginResult{
				AccessToken: "access_token_123",
				ExpiresAt:   expiresAt,
				Session:     &models.ActiveSession{ID: "session-1"},
				User:        &models.User{ID: "user-1"},
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	req.Header.Set("User-Agent", "Firefox/140")

	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.LoginResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "session-1", resp.SessionID)
	assert.True(t, expiresAt.Equal(resp.ExpiresAt))

	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, "192.0.2.1", got.IPAddress)
	assert.Equal(t, "Firefox/140", got.DeviceInfo)
}

func TestLogin_PassesTwoFactorCode(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
			assert.Equal(t, "123456", req.TwoFactorCode)
			assert.Equal(t, "Work laptop", req.DeviceInfo)
			return &models.LoginResult{
				Session: &models.ActiveSession{ID: "s"},
				User:    &models.User{ID: "u"},
			}, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:      "user@example.com",
		Password:   "password123",
		DeviceInfo: "Work laptop",
		Code:       "123456",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_InvalidBody(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil, handlers.DiscardLogger())
	req := httptest.NewRequest("POST", "/auth/login", nil)

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestLogin_ValidationFailed(t *testing.T) {
	called := false
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
			called = true
			return nil, nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "not-an-email",
		Password: "password123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.Contains(t, w.Body.String(), "valid email")
	assert.False(t, called)
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthenticated", models.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
		{"wrong second factor looks like bad credentials", models.ErrMismatch, http.StatusUnauthorized, "unauthorized"},
		{"two factor required", models.ErrTwoFactorRequired, http.StatusUnauthorized, "two_factor_required"},
		{"storage failure", errors.New("connection refused"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
					return nil, tt.err
				},
			}

			handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
			req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "password123",
			})

			w := httptest.NewRecorder()
			handler.Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestLogin_LockedOut(t *testing.T) {
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
			return nil, &models.RateLimitedError{
				RetryAfter: 59500 * time.Millisecond,
				Message:    "Too many failed attempts. Try again in 1 minute.",
			}
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})

	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusTooManyRequests, "rate_limit_exceeded")
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Try again in 1 minute.")
}

func TestLogout_Success(t *testing.T) {
	var gotUser, gotSession string
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, userID, sessionID string) error {
			gotUser, gotSession = userID, sessionID
			return nil
		},
	}

	handler := handlers.NewAuthHandler(mockAuth, nil, handlers.DiscardLogger())
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, "POST", "/auth/logout", nil), "user-1", "session-1")

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	var resp handlers.SuccessResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.True(t, resp.Success)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "session-1", gotSession)
}

func TestLogout_Unauthenticated(t *testing.T) {
	handler := handlers.NewAuthHandler(&handlers.MockAuthService{}, nil, handlers.DiscardLogger())
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}
