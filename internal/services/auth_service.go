package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/auth"
	"github.com/carebridge/accountsec/internal/models"
	pkgauth "github.com/carebridge/accountsec/pkg/auth"
	pkglogger "github.com/carebridge/accountsec/pkg/logger"
)

// UserRepository is the account storage used by login
type UserRepository interface {
	Create(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetVerifiedPhone(ctx context.Context, userID, phone string, at time.Time) error
}

// SecondFactor is consulted after the password is accepted
type SecondFactor interface {
	IsEnabled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error)
}

// AuthService handles password login, lockout and session issuance
type AuthService struct {
	users     UserRepository
	lockout   *LockoutService
	twoFactor SecondFactor
	sessions  *SessionService
	tokens    *auth.TokenManager
	timing    *auth.TimingDelay
	events    EventRecorder
	keyScope  string
	logger    *slog.Logger
}

func NewAuthService(
	users UserRepository,
	lockout *LockoutService,
	twoFactor SecondFactor,
	sessions *SessionService,
	tokens *auth.TokenManager,
	timing *auth.TimingDelay,
	events EventRecorder,
	keyScope string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		lockout:   lockout,
		twoFactor: twoFactor,
		sessions:  sessions,
		tokens:    tokens,
		timing:    timing,
		events:    events,
		keyScope:  keyScope,
		logger:    logger,
	}
}

// Login authenticates a user. The lockout is checked before credentials so
// a locked identity learns nothing about its password.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	start := time.Now()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, models.NewValidationError("email and password are required")
	}
	key := IdentityKey(s.keyScope, email, req.IPAddress)

	decision, err := s.lockout.Check(ctx, key)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.events.Record(ctx, EventInput{
			EventType:   models.EventLoginFailed,
			Description: "Login rejected: identity locked",
			IPAddress:   req.IPAddress,
			Metadata:    map[string]any{"identity_key": pkglogger.SanitizedIdentityKey(key)},
		})
		return nil, &models.RateLimitedError{
			RetryAfter: decision.RetryAfter,
			Message:    LockoutMessage(decision.RetryAfter),
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, models.ErrNotFound):
		_ = pkgauth.CompareDummy(req.Password)
		return nil, s.failLogin(ctx, start, key, "", req.IPAddress, "invalid_credentials")
	case err != nil:
		return nil, persistenceError("load user", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		return nil, s.failLogin(ctx, start, key, user.ID, req.IPAddress, "invalid_credentials")
	}

	enabled, err := s.twoFactor.IsEnabled(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if enabled {
		if strings.TrimSpace(req.TwoFactorCode) == "" {
			return nil, models.ErrTwoFactorRequired
		}
		if _, err := s.twoFactor.Verify(ctx, user.ID, req.TwoFactorCode); err != nil {
			if errors.Is(err, models.ErrPersistence) {
				return nil, err
			}
			return nil, s.failLogin(ctx, start, key, user.ID, req.IPAddress, "invalid_second_factor")
		}
	}

	if err := s.lockout.Reset(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "failed to reset lockout counter",
			slog.String("identity_key", pkglogger.SanitizedIdentityKey(key)),
			slog.Any("error", err),
		)
	}

	session, err := s.sessions.Register(ctx, user.ID, req.DeviceInfo, req.IPAddress)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.tokens.GenerateAccessToken(user.ID, user.Email, session.ID)
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, EventInput{
		UserID:      user.ID,
		EventType:   models.EventLoginSucceeded,
		Description: "Login succeeded",
		Success:     true,
		IPAddress:   req.IPAddress,
		Metadata:    map[string]any{"session_id": session.ID, "two_factor": enabled},
	})

	return &models.LoginResult{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		Session:     session,
		User:        user,
	}, nil
}

func (s *AuthService) failLogin(ctx context.Context, start time.Time, key, userID, ip, reason string) error {
	result, err := s.lockout.RecordFailure(ctx, key)
	if err != nil {
		return err
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventLoginFailed,
		Description: "Login failed",
		IPAddress:   ip,
		Metadata: map[string]any{
			"reason":        reason,
			"failure_count": result.FailureCount,
		},
	})

	if err := s.timing.WaitFrom(ctx, start); err != nil {
		return err
	}

	if result.Locked {
		return &models.RateLimitedError{RetryAfter: result.RetryAfter, Message: result.Message}
	}
	return models.ErrUnauthenticated
}

// Logout ends the caller's session
func (s *AuthService) Logout(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Terminate(ctx, sessionID); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
		return err
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventLogout,
		Description: "Logged out",
		Success:     true,
		Metadata:    map[string]any{"session_id": sessionID},
	})
	return nil
}

// EnsureUser creates the account if no account uses email yet
func (s *AuthService) EnsureUser(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, persistenceError("load user", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, models.NewValidationError("password does not meet requirements")
	}
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		return nil, persistenceError("create user", err)
	}
	s.logger.InfoContext(ctx, "user created", slog.String("email", pkglogger.SanitizedEmail(email)))
	return user, nil
}
