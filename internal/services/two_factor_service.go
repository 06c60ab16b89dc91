package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/internal/repositories"
	pkgauth "github.com/carebridge/accountsec/pkg/auth"
)

var (
	totpCodePattern   = regexp.MustCompile(`^[0-9]{6}$`)
	backupCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)
)

// TwoFactorService manages TOTP enrolment, verification and backup codes
type TwoFactorService struct {
	repo        repositories.TwoFactorRepository
	totp        *auth.TOTPManager
	users       UserLookup
	guard       AttemptGuard
	events      EventRecorder
	clock       clock.Clock
	setupWindow time.Duration
	logger      *slog.Logger
}

func NewTwoFactorService(
	repo repositories.TwoFactorRepository,
	totp *auth.TOTPManager,
	users UserLookup,
	guard AttemptGuard,
	events EventRecorder,
	clk clock.Clock,
	setupWindow time.Duration,
	logger *slog.Logger,
) *TwoFactorService {
	return &TwoFactorService{
		repo:        repo,
		totp:        totp,
		users:       users,
		guard:       guard,
		events:      events,
		clock:       clk,
		setupWindow: setupWindow,
		logger:      logger,
	}
}

// Setup starts (or restarts) enrolment. The returned secret and backup
// codes are shown to the user once and never again. label names the account
// in the authenticator app and defaults to the user's email.
func (s *TwoFactorService) Setup(ctx context.Context, userID, label string) (*models.TwoFactorSetup, error) {
	existing, err := retryRead(ctx, func() (*models.TwoFactorConfig, error) {
		return s.repo.GetByUserID(ctx, userID)
	})
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, persistenceError("load two-factor config", err)
	}
	if existing != nil && existing.Enabled {
		return nil, models.ErrConflict
	}

	label = strings.TrimSpace(label)
	if label == "" {
		user, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return nil, persistenceError("load user", err)
		}
		label = user.Email
	}

	key, err := s.totp.GenerateKey(label)
	if err != nil {
		return nil, err
	}
	codes, err := auth.GenerateBackupCodes(auth.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	ciphertext, nonce, err := s.totp.EncryptSecret(key.Secret)
	if err != nil {
		return nil, err
	}

	cfg := &models.TwoFactorConfig{
		UserID:           userID,
		SecretEncrypted:  ciphertext,
		SecretNonce:      nonce,
		BackupCodeHashes: hashBackupCodes(codes),
		CreatedAt:        s.clock.Now(),
	}
	if err := s.repo.UpsertPending(ctx, cfg); err != nil {
		return nil, persistenceError("store pending two-factor config", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventTwoFactorSetup,
		Description: "Two-factor enrolment started",
		Success:     true,
	})

	return &models.TwoFactorSetup{
		Secret: key.Secret,
		QRPayload: models.QRPayload{
			OTPAuthURL: key.OTPAuthURL,
			PNGDataURL: key.QRDataURL,
		},
		BackupCodes: codes,
	}, nil
}

// Verify accepts a 6-digit TOTP code or, once enrolment is complete, an
// unused backup code. The first valid TOTP code completes enrolment.
// Wrong codes count towards a per-user lockout shared with login step-up.
func (s *TwoFactorService) Verify(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error) {
	code = strings.TrimSpace(code)

	switch {
	case totpCodePattern.MatchString(code):
		return s.verifyTOTP(ctx, userID, code)
	case backupCodePattern.MatchString(code):
		return s.verifyBackupCode(ctx, userID, code)
	default:
		return nil, models.NewValidationError("code must be a 6-digit authenticator code or an 8-character backup code")
	}
}

func (s *TwoFactorService) load(ctx context.Context, userID string) (*models.TwoFactorConfig, error) {
	cfg, err := retryRead(ctx, func() (*models.TwoFactorConfig, error) {
		return s.repo.GetByUserID(ctx, userID)
	})
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrTwoFactorNotConfigured
	}
	if err != nil {
		return nil, persistenceError("load two-factor config", err)
	}
	return cfg, nil
}

func (s *TwoFactorService) verifyTOTP(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error) {
	if err := checkAttempts(ctx, s.guard, totpKey(userID)); err != nil {
		return nil, err
	}
	cfg, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()

	if !cfg.Enabled && now.Sub(cfg.CreatedAt) > s.setupWindow {
		s.recordFailure(ctx, userID, "Two-factor enrolment window expired")
		return nil, models.ErrExpired
	}

	secret, err := s.totp.DecryptSecret(cfg.SecretEncrypted, cfg.SecretNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt TOTP secret: %w", err)
	}

	step, ok, err := s.totp.MatchStep(secret, code, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.recordFailure(ctx, userID, "Invalid authenticator code")
		return nil, failAttempt(ctx, s.guard, totpKey(userID), models.ErrMismatch)
	}
	if cfg.LastUsedStep != nil && step <= *cfg.LastUsedStep {
		s.recordFailure(ctx, userID, "Authenticator code already used")
		return nil, failAttempt(ctx, s.guard, totpKey(userID), models.ErrMismatch)
	}

	consumed, err := s.repo.ConsumeStep(ctx, userID, step, now)
	if err != nil {
		return nil, persistenceError("consume TOTP step", err)
	}
	if !consumed {
		// Lost a race with a concurrent verification of the same code.
		s.recordFailure(ctx, userID, "Authenticator code already used")
		return nil, failAttempt(ctx, s.guard, totpKey(userID), models.ErrMismatch)
	}
	resetAttempts(ctx, s.guard, totpKey(userID), s.logger)

	result := &models.TwoFactorVerifyResult{
		Enabled:              true,
		JustEnabled:          !cfg.Enabled,
		RemainingBackupCodes: len(cfg.BackupCodeHashes),
	}

	eventType, description := models.EventTwoFactorVerified, "Authenticator code verified"
	if result.JustEnabled {
		eventType, description = models.EventTwoFactorEnabled, "Two-factor authentication enabled"
	}
	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   eventType,
		Description: description,
		Success:     true,
	})
	return result, nil
}

func (s *TwoFactorService) verifyBackupCode(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error) {
	if err := checkAttempts(ctx, s.guard, totpKey(userID)); err != nil {
		return nil, err
	}
	cfg, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		s.recordFailure(ctx, userID, "Backup code used before enrolment completed")
		return nil, failAttempt(ctx, s.guard, totpKey(userID), models.ErrMismatch)
	}

	remaining, err := s.repo.ConsumeBackupCode(ctx, userID, auth.HashBackupCode(code))
	if errors.Is(err, models.ErrNotFound) {
		s.recordFailure(ctx, userID, "Invalid backup code")
		return nil, failAttempt(ctx, s.guard, totpKey(userID), models.ErrMismatch)
	}
	if err != nil {
		return nil, persistenceError("consume backup code", err)
	}
	resetAttempts(ctx, s.guard, totpKey(userID), s.logger)

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventBackupCodeUsed,
		Description: "Backup code used",
		Success:     true,
		Metadata:    map[string]any{"remaining_backup_codes": remaining},
	})
	return &models.TwoFactorVerifyResult{
		UsedBackupCode:       true,
		Enabled:              true,
		RemainingBackupCodes: remaining,
	}, nil
}

// Disable removes enrolment after the user proves their password. Wrong
// passwords count towards a per-user lockout.
func (s *TwoFactorService) Disable(ctx context.Context, userID, password string) error {
	if password == "" {
		return models.NewValidationError("password is required")
	}
	if err := checkAttempts(ctx, s.guard, passwordProofKey(userID)); err != nil {
		return err
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return persistenceError("load user", err)
	}
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.recordFailure(ctx, userID, "Two-factor disable rejected: wrong password")
		return failAttempt(ctx, s.guard, passwordProofKey(userID), models.ErrMismatch)
	}
	resetAttempts(ctx, s.guard, passwordProofKey(userID), s.logger)

	err = s.repo.Delete(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrTwoFactorNotConfigured
	}
	if err != nil {
		return persistenceError("delete two-factor config", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventTwoFactorDisabled,
		Description: "Two-factor authentication disabled",
		Success:     true,
	})
	return nil
}

// Status reports the enrolment state of the user
func (s *TwoFactorService) Status(ctx context.Context, userID string) (*models.TwoFactorStatus, error) {
	cfg, err := s.load(ctx, userID)
	if errors.Is(err, models.ErrTwoFactorNotConfigured) {
		return &models.TwoFactorStatus{}, nil
	}
	if err != nil {
		return nil, err
	}

	return &models.TwoFactorStatus{
		Enabled:              cfg.Enabled,
		Pending:              !cfg.Enabled,
		VerifiedAt:           cfg.VerifiedAt,
		RemainingBackupCodes: len(cfg.BackupCodeHashes),
	}, nil
}

// IsEnabled reports whether login requires a second factor
func (s *TwoFactorService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.Enabled, nil
}

// RegenerateBackupCodes replaces every backup code. A current
// authenticator code is required.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	code = strings.TrimSpace(code)
	if !totpCodePattern.MatchString(code) {
		return nil, models.NewValidationError("a 6-digit authenticator code is required")
	}

	cfg, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, models.ErrTwoFactorNotConfigured
	}
	if _, err := s.verifyTOTP(ctx, userID, code); err != nil {
		return nil, err
	}

	codes, err := auth.GenerateBackupCodes(auth.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceBackupCodes(ctx, userID, hashBackupCodes(codes)); err != nil {
		return nil, persistenceError("replace backup codes", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventBackupCodesRegenerated,
		Description: "Backup codes regenerated",
		Success:     true,
	})
	return codes, nil
}

func (s *TwoFactorService) recordFailure(ctx context.Context, userID, description string) {
	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventTwoFactorVerified,
		Description: description,
	})
}

func hashBackupCodes(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = auth.HashBackupCode(c)
	}
	return hashes
}
