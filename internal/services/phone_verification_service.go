package services

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/pkg/logger"
	"github.com/google/uuid"
)

var (
	e164Pattern      = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)
	phoneCodePattern = regexp.MustCompile(`^[0-9]{6}$`)
)

// PhoneVerificationStore persists issued phone codes
type PhoneVerificationStore interface {
	Create(ctx context.Context, v *models.PhoneVerification) error
	GetLatest(ctx context.Context, userID, phone string) (*models.PhoneVerification, error)
	IncrementAttempts(ctx context.Context, id string, maxAttempts int) (int, error)
	MarkVerified(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error)
	UnmarkVerified(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// PhoneOwnerStore records a verified number on the account
type PhoneOwnerStore interface {
	SetVerifiedPhone(ctx context.Context, userID, phone string, at time.Time) error
}

type PhoneVerificationConfig struct {
	CodeTTL     time.Duration
	MaxAttempts int
}

// PhoneVerificationService proves a user controls a phone number by
// sending a one-time code to it.
type PhoneVerificationService struct {
	store  PhoneVerificationStore
	owners PhoneOwnerStore
	sender SMSSender
	events EventRecorder
	clock  clock.Clock
	config PhoneVerificationConfig
	logger *slog.Logger
}

func NewPhoneVerificationService(
	store PhoneVerificationStore,
	owners PhoneOwnerStore,
	sender SMSSender,
	events EventRecorder,
	clk clock.Clock,
	config PhoneVerificationConfig,
	logger *slog.Logger,
) *PhoneVerificationService {
	return &PhoneVerificationService{
		store:  store,
		owners: owners,
		sender: sender,
		events: events,
		clock:  clk,
		config: config,
		logger: logger,
	}
}

// SendCode issues a fresh 6-digit code to phone. Earlier codes for the same
// number are superseded.
func (s *PhoneVerificationService) SendCode(ctx context.Context, userID, phone string) (*models.PhoneCodeIssued, error) {
	phone = strings.TrimSpace(phone)
	if !e164Pattern.MatchString(phone) {
		return nil, models.NewValidationError("phone number must be in E.164 format, e.g. +14155550123")
	}

	n, err := auth.RandomIntn(900000)
	if err != nil {
		return nil, err
	}
	code := fmt.Sprintf("%06d", 100000+n)

	now := s.clock.Now()
	v := &models.PhoneVerification{
		ID:          uuid.NewString(),
		UserID:      userID,
		PhoneNumber: phone,
		CodeHash:    hashPhoneCode(code),
		ExpiresAt:   now.Add(s.config.CodeTTL),
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, v); err != nil {
		return nil, persistenceError("store phone code", err)
	}

	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.config.CodeTTL.Minutes()))
	if err := s.sender.Send(ctx, phone, body); err != nil {
		s.logger.ErrorContext(ctx, "failed to deliver phone code",
			slog.String("phone", logger.SanitizedPhone(phone)),
			slog.Any("error", err),
		)
		s.events.Record(ctx, EventInput{
			UserID:      userID,
			EventType:   models.EventPhoneCodeSent,
			Description: "Verification code delivery failed",
			Metadata:    map[string]any{"phone": logger.SanitizedPhone(phone)},
		})
		return nil, fmt.Errorf("%w: %w", models.ErrDeliveryFailed, err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventPhoneCodeSent,
		Description: "Verification code sent",
		Success:     true,
		Metadata:    map[string]any{"phone": logger.SanitizedPhone(phone)},
	})
	return &models.PhoneCodeIssued{ExpiresAt: v.ExpiresAt}, nil
}

// VerifyCode checks code against the latest code issued for phone and, on
// success, marks the number verified on the account. Expiry is reported
// before anything else, even for a code that was already used.
func (s *PhoneVerificationService) VerifyCode(ctx context.Context, userID, phone, code string) error {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if !e164Pattern.MatchString(phone) {
		return models.NewValidationError("phone number must be in E.164 format, e.g. +14155550123")
	}
	if !phoneCodePattern.MatchString(code) {
		return models.NewValidationError("code must be 6 digits")
	}

	v, err := retryRead(ctx, func() (*models.PhoneVerification, error) {
		return s.store.GetLatest(ctx, userID, phone)
	})
	if errors.Is(err, models.ErrNotFound) {
		s.recordFailure(ctx, userID, phone, "No verification code issued")
		return models.ErrMismatch
	}
	if err != nil {
		return persistenceError("load phone code", err)
	}

	now := s.clock.Now()
	if now.After(v.ExpiresAt) {
		s.recordFailure(ctx, userID, phone, "Verification code expired")
		return models.ErrExpired
	}
	if v.Verified {
		s.recordFailure(ctx, userID, phone, "Verification code already used")
		return models.ErrMismatch
	}
	if v.Attempts >= s.config.MaxAttempts {
		s.recordFailure(ctx, userID, phone, "Verification attempts exhausted")
		return models.ErrAttemptsExhausted
	}

	if subtle.ConstantTimeCompare([]byte(hashPhoneCode(code)), []byte(v.CodeHash)) != 1 {
		if _, err := s.store.IncrementAttempts(ctx, v.ID, s.config.MaxAttempts); err != nil {
			if errors.Is(err, models.ErrAttemptsExhausted) {
				s.recordFailure(ctx, userID, phone, "Verification attempts exhausted")
				return models.ErrAttemptsExhausted
			}
			return persistenceError("count phone code attempt", err)
		}
		s.recordFailure(ctx, userID, phone, "Invalid verification code")
		return models.ErrMismatch
	}

	ok, err := s.store.MarkVerified(ctx, v.ID, s.config.MaxAttempts, now)
	if err != nil {
		return persistenceError("mark phone verified", err)
	}
	if !ok {
		// Used or exhausted by a concurrent request.
		s.recordFailure(ctx, userID, phone, "Verification code no longer valid")
		return models.ErrMismatch
	}

	if err := s.owners.SetVerifiedPhone(ctx, userID, phone, now); err != nil {
		// Leave the code usable so the user can retry.
		if uerr := s.store.UnmarkVerified(ctx, v.ID); uerr != nil {
			s.logger.ErrorContext(ctx, "failed to release phone code after profile update failed",
				slog.String("user_id", userID),
				slog.Any("error", uerr),
			)
		}
		return persistenceError("store verified phone", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventPhoneVerified,
		Description: "Phone number verified",
		Success:     true,
		Metadata:    map[string]any{"phone": logger.SanitizedPhone(phone)},
	})
	return nil
}

// PurgeExpired deletes codes that expired before cutoff
func (s *PhoneVerificationService) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, persistenceError("purge expired phone codes", err)
	}
	return n, nil
}

func (s *PhoneVerificationService) recordFailure(ctx context.Context, userID, phone, description string) {
	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventPhoneVerified,
		Description: description,
		Metadata:    map[string]any{"phone": logger.SanitizedPhone(phone)},
	})
}

func hashPhoneCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
