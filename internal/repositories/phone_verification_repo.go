package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PhoneVerificationRepository handles SMS verification code data access
type PhoneVerificationRepository struct {
	pool *pgxpool.Pool
}

func NewPhoneVerificationRepository(db *database.DB) *PhoneVerificationRepository {
	return &PhoneVerificationRepository{pool: db.Pool}
}

// Create inserts a new code. Earlier codes for the same phone stay in place
// but are shadowed by this one.
func (r *PhoneVerificationRepository) Create(ctx context.Context, v *models.PhoneVerification) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}

	query := `
		INSERT INTO phone_verifications
			(id, user_id, phone_number, code_hash, expires_at, attempts, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, FALSE, $6)
	`

	_, err := r.pool.Exec(ctx, query, v.ID, v.UserID, v.PhoneNumber, v.CodeHash, v.ExpiresAt, v.CreatedAt)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if mapped == models.ErrBadRequest {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to create phone verification: %w", err)
	}

	return nil
}

// GetLatest returns the most recent code issued for the pair, whatever its
// state, so callers can report why it can no longer be used.
func (r *PhoneVerificationRepository) GetLatest(ctx context.Context, userID, phone string) (*models.PhoneVerification, error) {
	query := `
		SELECT id, user_id, phone_number, code_hash, expires_at, attempts, verified, created_at
		FROM phone_verifications
		WHERE user_id = $1 AND phone_number = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	var v models.PhoneVerification
	err := r.pool.QueryRow(ctx, query, userID, phone).Scan(
		&v.ID, &v.UserID, &v.PhoneNumber, &v.CodeHash,
		&v.ExpiresAt, &v.Attempts, &v.Verified, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get phone verification: %w", err)
	}

	return &v, nil
}

// IncrementAttempts adds one failed attempt unless the cap is reached. It
// returns the new count, or models.ErrAttemptsExhausted at the cap.
func (r *PhoneVerificationRepository) IncrementAttempts(ctx context.Context, id string, maxAttempts int) (int, error) {
	query := `
		UPDATE phone_verifications
		SET attempts = attempts + 1
		WHERE id = $1 AND verified = FALSE AND attempts < $2
		RETURNING attempts
	`

	var attempts int
	err := r.pool.QueryRow(ctx, query, id, maxAttempts).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrAttemptsExhausted
		}
		return 0, fmt.Errorf("failed to increment verification attempts: %w", err)
	}

	return attempts, nil
}

// MarkVerified flips the code to verified if it is still usable at now.
// It reports false when another request got there first or the code lapsed.
func (r *PhoneVerificationRepository) MarkVerified(ctx context.Context, id string, maxAttempts int, now time.Time) (bool, error) {
	query := `
		UPDATE phone_verifications
		SET verified = TRUE
		WHERE id = $1 AND verified = FALSE AND attempts < $2 AND expires_at >= $3
	`

	result, err := r.pool.Exec(ctx, query, id, maxAttempts, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark phone verified: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// UnmarkVerified returns a verified code to pending. It undoes MarkVerified
// when the number could not be stored on the account.
func (r *PhoneVerificationRepository) UnmarkVerified(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE phone_verifications SET verified = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to unmark phone verified: %w", err)
	}
	return nil
}

// DeleteExpired purges codes that expired before cutoff
func (r *PhoneVerificationRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM phone_verifications WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired phone verifications: %w", err)
	}
	return result.RowsAffected(), nil
}
