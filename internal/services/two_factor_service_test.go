package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	pkgauth "github.com/carebridge/accountsec/pkg/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memTwoFactorRepo mirrors the conditional updates of the Postgres repository
type memTwoFactorRepo struct {
	mu      sync.Mutex
	configs map[string]models.TwoFactorConfig
}

func newMemTwoFactorRepo() *memTwoFactorRepo {
	return &memTwoFactorRepo{configs: make(map[string]models.TwoFactorConfig)}
}

func (m *memTwoFactorRepo) UpsertPending(_ context.Context, cfg *models.TwoFactorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.configs[cfg.UserID]; ok && existing.Enabled {
		return models.ErrConflict
	}
	c := *cfg
	c.Enabled = false
	c.VerifiedAt = nil
	c.LastUsedStep = nil
	c.BackupCodeHashes = append([]string(nil), cfg.BackupCodeHashes...)
	m.configs[cfg.UserID] = c
	return nil
}

func (m *memTwoFactorRepo) GetByUserID(_ context.Context, userID string) (*models.TwoFactorConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c.BackupCodeHashes = append([]string(nil), c.BackupCodeHashes...)
	return &c, nil
}

func (m *memTwoFactorRepo) ConsumeStep(_ context.Context, userID string, step int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[userID]
	if !ok || (c.LastUsedStep != nil && *c.LastUsedStep >= step) {
		return false, nil
	}
	c.LastUsedStep = &step
	c.Enabled = true
	if c.VerifiedAt == nil {
		c.VerifiedAt = &at
	}
	m.configs[userID] = c
	return true, nil
}

func (m *memTwoFactorRepo) ConsumeBackupCode(_ context.Context, userID, codeHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[userID]
	if !ok {
		return 0, models.ErrNotFound
	}
	for i, h := range c.BackupCodeHashes {
		if h == codeHash {
			c.BackupCodeHashes = append(c.BackupCodeHashes[:i:i], c.BackupCodeHashes[i+1:]...)
			m.configs[userID] = c
			return len(c.BackupCodeHashes), nil
		}
	}
	return 0, models.ErrNotFound
}

func (m *memTwoFactorRepo) ReplaceBackupCodes(_ context.Context, userID string, codeHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[userID]
	if !ok {
		return models.ErrNotFound
	}
	c.BackupCodeHashes = append([]string(nil), codeHashes...)
	m.configs[userID] = c
	return nil
}

func (m *memTwoFactorRepo) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[userID]; !ok {
		return models.ErrNotFound
	}
	delete(m.configs, userID)
	return nil
}

const testPassword = "correct-Horse-battery-9"

type twoFactorFixture struct {
	svc      *TwoFactorService
	repo     *memTwoFactorRepo
	attempts *memLoginAttemptStore
	clock    *clock.Fake
	events   *recordingEvents
}

func newTwoFactorFixture(t *testing.T) *twoFactorFixture {
	t.Helper()
	tm, err := auth.NewTOTPManager(make([]byte, 32), "CareBridge")
	require.NoError(t, err)

	hash, err := pkgauth.HashWithCost(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Email: "patient@example.com", PasswordHash: hash}, nil
		},
	}

	f := &twoFactorFixture{
		repo:     newMemTwoFactorRepo(),
		attempts: newMemLoginAttemptStore(),
		clock:    clock.NewFake(testStart),
		events:   &recordingEvents{},
	}
	guard := NewLockoutService(f.attempts, f.clock, f.events, discardLogger())
	f.svc = NewTwoFactorService(f.repo, tm, users, guard, f.events, f.clock, 15*time.Minute, discardLogger())
	return f
}

func (f *twoFactorFixture) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := auth.CodeAt(secret, f.clock.Now())
	require.NoError(t, err)
	return code
}

// enrol completes setup and returns the plaintext secret and backup codes
func (f *twoFactorFixture) enrol(t *testing.T) (string, []string) {
	t.Helper()
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)
	_, err = f.svc.Verify(context.Background(), "user-1", f.code(t, setup.Secret))
	require.NoError(t, err)
	return setup.Secret, setup.BackupCodes
}

// ============================================================================
// Setup
// ============================================================================

func TestTwoFactorService_Setup(t *testing.T) {
	f := newTwoFactorFixture(t)

	setup, err := f.svc.Setup(context.Background(), "user-1", "")

	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.Contains(t, setup.QRPayload.OTPAuthURL, "otpauth://totp/")
	assert.True(t, strings.HasPrefix(setup.QRPayload.PNGDataURL, "data:image/png;base64,"))
	assert.Len(t, setup.BackupCodes, auth.BackupCodeCount)

	cfg, err := f.repo.GetByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.NotContains(t, string(cfg.SecretEncrypted), setup.Secret)
	assert.Len(t, cfg.BackupCodeHashes, auth.BackupCodeCount)
	assert.NotContains(t, cfg.BackupCodeHashes, setup.BackupCodes[0])
	assert.Len(t, f.events.ofType(models.EventTwoFactorSetup), 1)
}

func TestTwoFactorService_Setup_CustomLabel(t *testing.T) {
	f := newTwoFactorFixture(t)

	setup, err := f.svc.Setup(context.Background(), "user-1", "Work phone")

	require.NoError(t, err)
	assert.Contains(t, setup.QRPayload.OTPAuthURL, "Work%20phone")
}

func TestTwoFactorService_Setup_RestartReplacesPending(t *testing.T) {
	f := newTwoFactorFixture(t)
	first, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	second, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	assert.NotEqual(t, first.Secret, second.Secret)
	_, err = f.svc.Verify(context.Background(), "user-1", f.code(t, second.Secret))
	assert.NoError(t, err)
}

func TestTwoFactorService_Setup_AlreadyEnabled(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrol(t)

	_, err := f.svc.Setup(context.Background(), "user-1", "")

	assert.ErrorIs(t, err, models.ErrConflict)
}

// ============================================================================
// Verify
// ============================================================================

func TestTwoFactorService_Verify_CompletesEnrolment(t *testing.T) {
	f := newTwoFactorFixture(t)
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	result, err := f.svc.Verify(context.Background(), "user-1", f.code(t, setup.Secret))

	require.NoError(t, err)
	assert.True(t, result.Enabled)
	assert.True(t, result.JustEnabled)
	assert.False(t, result.UsedBackupCode)
	assert.Equal(t, auth.BackupCodeCount, result.RemainingBackupCodes)
	assert.Len(t, f.events.ofType(models.EventTwoFactorEnabled), 1)

	status, err := f.svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.Pending)
	require.NotNil(t, status.VerifiedAt)
	assert.Equal(t, f.clock.Now(), *status.VerifiedAt)
}

func TestTwoFactorService_Verify_ReplayRejected(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret, _ := f.enrol(t)

	_, err := f.svc.Verify(context.Background(), "user-1", f.code(t, secret))
	assert.ErrorIs(t, err, models.ErrMismatch)

	f.clock.Advance(30 * time.Second)
	result, err := f.svc.Verify(context.Background(), "user-1", f.code(t, secret))
	require.NoError(t, err)
	assert.False(t, result.JustEnabled)
}

func TestTwoFactorService_Verify_AcceptsClockDrift(t *testing.T) {
	f := newTwoFactorFixture(t)
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	code := f.code(t, setup.Secret)
	f.clock.Advance(60 * time.Second)
	_, err = f.svc.Verify(context.Background(), "user-1", code)

	assert.NoError(t, err)
}

func TestTwoFactorService_Verify_WrongCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	code := f.code(t, setup.Secret)
	f.clock.Advance(5 * time.Minute)
	_, err = f.svc.Verify(context.Background(), "user-1", code)

	assert.ErrorIs(t, err, models.ErrMismatch)
	status, err := f.svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, status.Pending)
}

func TestTwoFactorService_Verify_LocksAfterRepeatedWrongCodes(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret, codes := f.enrol(t)
	ctx := context.Background()

	stale := f.code(t, secret)
	f.clock.Advance(5 * time.Minute)
	for i := 0; i < 2; i++ {
		_, err := f.svc.Verify(ctx, "user-1", stale)
		assert.ErrorIs(t, err, models.ErrMismatch)
	}

	_, err := f.svc.Verify(ctx, "user-1", stale)
	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 20*time.Second, limited.RetryAfter)
	assert.Len(t, f.events.ofType(models.EventLockoutTriggered), 1)

	// Valid codes of every kind are refused while locked.
	_, err = f.svc.Verify(ctx, "user-1", f.code(t, secret))
	assert.ErrorIs(t, err, models.ErrRateLimited)
	_, err = f.svc.Verify(ctx, "user-1", codes[0])
	assert.ErrorIs(t, err, models.ErrRateLimited)
	_, err = f.svc.RegenerateBackupCodes(ctx, "user-1", f.code(t, secret))
	assert.ErrorIs(t, err, models.ErrRateLimited)

	f.clock.Advance(20 * time.Second)
	_, err = f.svc.Verify(ctx, "user-1", f.code(t, secret))
	require.NoError(t, err)
	_, ok := f.attempts.record(totpKey("user-1"))
	assert.False(t, ok)
}

func TestTwoFactorService_Verify_SuccessResetsFailures(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret, _ := f.enrol(t)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		stale := f.code(t, secret)
		f.clock.Advance(5 * time.Minute)
		for i := 0; i < 2; i++ {
			_, err := f.svc.Verify(ctx, "user-1", stale)
			assert.ErrorIs(t, err, models.ErrMismatch)
		}
		_, err := f.svc.Verify(ctx, "user-1", f.code(t, secret))
		require.NoError(t, err)
	}
	assert.Empty(t, f.events.ofType(models.EventLockoutTriggered))
}

func TestTwoFactorService_Verify_SetupWindowExpired(t *testing.T) {
	f := newTwoFactorFixture(t)
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Verify(context.Background(), "user-1", f.code(t, setup.Secret))

	assert.ErrorIs(t, err, models.ErrExpired)
}

func TestTwoFactorService_Verify_NotConfigured(t *testing.T) {
	f := newTwoFactorFixture(t)

	_, err := f.svc.Verify(context.Background(), "user-1", "123456")

	assert.ErrorIs(t, err, models.ErrTwoFactorNotConfigured)
}

func TestTwoFactorService_Verify_MalformedCode(t *testing.T) {
	f := newTwoFactorFixture(t)

	for _, code := range []string{"", "12345", "1234567", "abc-defg", "ABCDEFGHJ"} {
		_, err := f.svc.Verify(context.Background(), "user-1", code)
		assert.ErrorIs(t, err, models.ErrValidation, code)
	}
}

// ============================================================================
// Backup codes
// ============================================================================

func TestTwoFactorService_BackupCode_RejectedBeforeEnrolment(t *testing.T) {
	f := newTwoFactorFixture(t)
	setup, err := f.svc.Setup(context.Background(), "user-1", "")
	require.NoError(t, err)

	_, err = f.svc.Verify(context.Background(), "user-1", setup.BackupCodes[0])

	assert.ErrorIs(t, err, models.ErrMismatch)
}

func TestTwoFactorService_BackupCode_SingleUse(t *testing.T) {
	f := newTwoFactorFixture(t)
	_, codes := f.enrol(t)

	result, err := f.svc.Verify(context.Background(), "user-1", strings.ToLower(codes[3]))
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)
	assert.Equal(t, auth.BackupCodeCount-1, result.RemainingBackupCodes)
	assert.Len(t, f.events.ofType(models.EventBackupCodeUsed), 1)

	_, err = f.svc.Verify(context.Background(), "user-1", codes[3])
	assert.ErrorIs(t, err, models.ErrMismatch)
}

func TestTwoFactorService_BackupCode_ConcurrentUseSucceedsOnce(t *testing.T) {
	f := newTwoFactorFixture(t)
	_, codes := f.enrol(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Verify(context.Background(), "user-1", codes[0]); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
}

func TestTwoFactorService_RegenerateBackupCodes(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret, oldCodes := f.enrol(t)

	f.clock.Advance(30 * time.Second)
	codes, err := f.svc.RegenerateBackupCodes(context.Background(), "user-1", f.code(t, secret))

	require.NoError(t, err)
	assert.Len(t, codes, auth.BackupCodeCount)
	_, err = f.svc.Verify(context.Background(), "user-1", oldCodes[0])
	assert.ErrorIs(t, err, models.ErrMismatch)
	_, err = f.svc.Verify(context.Background(), "user-1", codes[0])
	assert.NoError(t, err)
}

func TestTwoFactorService_RegenerateBackupCodes_RequiresCurrentCode(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrol(t)

	_, err := f.svc.RegenerateBackupCodes(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, models.ErrValidation)
}

// ============================================================================
// Disable / Status
// ============================================================================

func TestTwoFactorService_Disable(t *testing.T) {
	f := newTwoFactorFixture(t)
	f.enrol(t)

	err := f.svc.Disable(context.Background(), "user-1", "wrong-password")
	assert.ErrorIs(t, err, models.ErrMismatch)

	require.NoError(t, f.svc.Disable(context.Background(), "user-1", testPassword))

	status, err := f.svc.Status(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.False(t, status.Pending)
	assert.Len(t, f.events.ofType(models.EventTwoFactorDisabled), 1)

	err = f.svc.Disable(context.Background(), "user-1", testPassword)
	assert.ErrorIs(t, err, models.ErrTwoFactorNotConfigured)
}

func TestTwoFactorService_Disable_LocksAfterRepeatedWrongPasswords(t *testing.T) {
	f := newTwoFactorFixture(t)
	secret, _ := f.enrol(t)
	ctx := context.Background()
	f.clock.Advance(30 * time.Second)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, f.svc.Disable(ctx, "user-1", "wrong-password"), models.ErrMismatch)
	}
	err := f.svc.Disable(ctx, "user-1", "wrong-password")
	var limited *models.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 20*time.Second, limited.RetryAfter)

	assert.ErrorIs(t, f.svc.Disable(ctx, "user-1", testPassword), models.ErrRateLimited)
	enabled, err := f.svc.IsEnabled(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, enabled)

	// The password lock does not block authenticator codes.
	_, err = f.svc.Verify(ctx, "user-1", f.code(t, secret))
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	require.NoError(t, f.svc.Disable(ctx, "user-1", testPassword))
}

func TestTwoFactorService_IsEnabled(t *testing.T) {
	f := newTwoFactorFixture(t)

	enabled, err := f.svc.IsEnabled(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	f.enrol(t)
	enabled, err = f.svc.IsEnabled(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, enabled)
}
