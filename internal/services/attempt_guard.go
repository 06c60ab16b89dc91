package services

import (
	"context"
	"log/slog"

	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/pkg/logger"
)

// AttemptGuard counts failed credential checks per key and refuses checks
// while the key is locked. LockoutService is the production implementation.
type AttemptGuard interface {
	Check(ctx context.Context, key string) (models.LockoutDecision, error)
	RecordFailure(ctx context.Context, key string) (models.LockoutResult, error)
	Reset(ctx context.Context, key string) error
}

// Keys for step-up checks made by an already authenticated user. They are
// separate from the login identity key so a lock on one does not hide the
// other.
func passwordProofKey(userID string) string { return "password:" + userID }
func totpKey(userID string) string          { return "totp:" + userID }
func questionsKey(userID string) string     { return "questions:" + userID }

func attemptsLockedError(result models.LockoutDecision) error {
	return &models.RateLimitedError{
		RetryAfter: result.RetryAfter,
		Message:    "Too many failed attempts. Please try again in " + formatWait(result.RetryAfter) + ".",
	}
}

// checkAttempts returns a *models.RateLimitedError while key is locked
func checkAttempts(ctx context.Context, guard AttemptGuard, key string) error {
	decision, err := guard.Check(ctx, key)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return attemptsLockedError(decision)
	}
	return nil
}

// failAttempt counts one failure against key. It returns failure, or a
// *models.RateLimitedError when this failure locked the key.
func failAttempt(ctx context.Context, guard AttemptGuard, key string, failure error) error {
	result, err := guard.RecordFailure(ctx, key)
	if err != nil {
		return err
	}
	if result.Locked {
		return attemptsLockedError(models.LockoutDecision{RetryAfter: result.RetryAfter})
	}
	return failure
}

// resetAttempts clears key after a successful check. Errors are logged.
func resetAttempts(ctx context.Context, guard AttemptGuard, key string, log *slog.Logger) {
	if err := guard.Reset(ctx, key); err != nil {
		log.ErrorContext(ctx, "failed to reset attempt counter",
			slog.String("identity_key", logger.SanitizedIdentityKey(key)),
			slog.Any("error", err),
		)
	}
}
