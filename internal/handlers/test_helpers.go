package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds token claims to the request context for testing
// authenticated endpoints
func WithAuthContext(req *http.Request, userID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		UserID:    userID,
		Email:     "user@example.com",
		SessionID: sessionID,
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// DiscardLogger returns a logger that drops everything
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc  func(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error)
	LogoutFunc func(ctx context.Context, userID, sessionID string) error
}

func (m *MockAuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthenticated
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, userID, sessionID)
}

// MockTwoFactorService implements TwoFactorServiceInterface for testing
type MockTwoFactorService struct {
	SetupFunc                 func(ctx context.Context, userID, label string) (*models.TwoFactorSetup, error)
	VerifyFunc                func(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error)
	DisableFunc               func(ctx context.Context, userID, password string) error
	StatusFunc                func(ctx context.Context, userID string) (*models.TwoFactorStatus, error)
	RegenerateBackupCodesFunc func(ctx context.Context, userID, code string) ([]string, error)
}

func (m *MockTwoFactorService) Setup(ctx context.Context, userID, label string) (*models.TwoFactorSetup, error) {
	if m.SetupFunc == nil {
		return nil, models.ErrConflict
	}
	return m.SetupFunc(ctx, userID, label)
}

func (m *MockTwoFactorService) Verify(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error) {
	if m.VerifyFunc == nil {
		return nil, models.ErrMismatch
	}
	return m.VerifyFunc(ctx, userID, code)
}

func (m *MockTwoFactorService) Disable(ctx context.Context, userID, password string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID, password)
}

func (m *MockTwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	if m.StatusFunc == nil {
		return &models.TwoFactorStatus{}, nil
	}
	return m.StatusFunc(ctx, userID)
}

func (m *MockTwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrTwoFactorNotConfigured
	}
	return m.RegenerateBackupCodesFunc(ctx, userID, code)
}

// MockPhoneService implements PhoneVerificationServiceInterface for testing
type MockPhoneService struct {
	SendCodeFunc   func(ctx context.Context, userID, phone string) (*models.PhoneCodeIssued, error)
	VerifyCodeFunc func(ctx context.Context, userID, phone, code string) error
}

func (m *MockPhoneService) SendCode(ctx context.Context, userID, phone string) (*models.PhoneCodeIssued, error) {
	if m.SendCodeFunc == nil {
		return nil, models.ErrDeliveryFailed
	}
	return m.SendCodeFunc(ctx, userID, phone)
}

func (m *MockPhoneService) VerifyCode(ctx context.Context, userID, phone, code string) error {
	if m.VerifyCodeFunc == nil {
		return models.ErrMismatch
	}
	return m.VerifyCodeFunc(ctx, userID, phone, code)
}

// MockSecurityQuestionService implements SecurityQuestionServiceInterface for testing
type MockSecurityQuestionService struct {
	SaveFunc      func(ctx context.Context, userID string, pairs []models.QuestionAnswer) error
	QuestionsFunc func(ctx context.Context, userID string) ([]string, error)
	VerifyFunc    func(ctx context.Context, userID string, answers []string) error
}

func (m *MockSecurityQuestionService) Save(ctx context.Context, userID string, pairs []models.QuestionAnswer) error {
	if m.SaveFunc == nil {
		return nil
	}
	return m.SaveFunc(ctx, userID, pairs)
}

func (m *MockSecurityQuestionService) Questions(ctx context.Context, userID string) ([]string, error) {
	if m.QuestionsFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.QuestionsFunc(ctx, userID)
}

func (m *MockSecurityQuestionService) Verify(ctx context.Context, userID string, answers []string) error {
	if m.VerifyFunc == nil {
		return models.ErrMismatch
	}
	return m.VerifyFunc(ctx, userID, answers)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	ListFunc               func(ctx context.Context, userID string) ([]*models.ActiveSession, error)
	TerminateForUserFunc   func(ctx context.Context, userID, sessionID string) error
	TerminateAllOthersFunc func(ctx context.Context, userID, currentID string) (int64, error)
}

func (m *MockSessionService) List(ctx context.Context, userID string) ([]*models.ActiveSession, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockSessionService) TerminateForUser(ctx context.Context, userID, sessionID string) error {
	if m.TerminateForUserFunc == nil {
		return models.ErrSessionNotFound
	}
	return m.TerminateForUserFunc(ctx, userID, sessionID)
}

func (m *MockSessionService) TerminateAllOthers(ctx context.Context, userID, currentID string) (int64, error) {
	if m.TerminateAllOthersFunc == nil {
		return 0, nil
	}
	return m.TerminateAllOthersFunc(ctx, userID, currentID)
}

// MockTimeoutMonitor implements TimeoutMonitor for testing
type MockTimeoutMonitor struct {
	PollFunc   func(ctx context.Context) (models.MonitorStatus, error)
	ExtendFunc func(ctx context.Context) (models.MonitorStatus, error)
}

func (m *MockTimeoutMonitor) Poll(ctx context.Context) (models.MonitorStatus, error) {
	if m.PollFunc == nil {
		return models.MonitorStatus{State: models.SessionStateActive}, nil
	}
	return m.PollFunc(ctx)
}

func (m *MockTimeoutMonitor) Extend(ctx context.Context) (models.MonitorStatus, error) {
	if m.ExtendFunc == nil {
		return models.MonitorStatus{State: models.SessionStateActive}, nil
	}
	return m.ExtendFunc(ctx)
}

// MockSecurityEventService implements SecurityEventServiceInterface for testing
type MockSecurityEventService struct {
	ListFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventService) List(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, userID, limit, offset)
}

// MockHealthChecker implements HealthChecker for testing
type MockHealthChecker struct {
	Err error
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	return m.Err
}
