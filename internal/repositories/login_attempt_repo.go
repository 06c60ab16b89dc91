package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5"
)

// LoginAttemptRepository persists per-identity failure counters in Postgres.
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Get returns the record for key or models.ErrNotFound.
func (r *LoginAttemptRepository) Get(ctx context.Context, key string) (*models.LoginAttemptRecord, error) {
	query := `
		SELECT identity_key, failure_count, lockout_until, updated_at
		FROM login_attempts
		WHERE identity_key = $1
	`

	var rec models.LoginAttemptRecord
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(
		&rec.IdentityKey, &rec.FailureCount, &rec.LockoutUntil, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get login attempts: %w", err)
	}

	return &rec, nil
}

// Update runs fn against the row for key while holding its row lock, creating
// the row first if needed. The mutated record is written back in the same
// transaction, so concurrent updates for one key are serialised.
func (r *LoginAttemptRepository) Update(ctx context.Context, key string, fn func(*models.LoginAttemptRecord) error) (*models.LoginAttemptRecord, error) {
	var rec models.LoginAttemptRecord

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO login_attempts (identity_key) VALUES ($1) ON CONFLICT (identity_key) DO NOTHING`,
			key,
		); err != nil {
			return fmt.Errorf("failed to initialise login attempts: %w", err)
		}

		err := tx.QueryRow(ctx, `
			SELECT identity_key, failure_count, lockout_until, updated_at
			FROM login_attempts
			WHERE identity_key = $1
			FOR UPDATE
		`, key).Scan(&rec.IdentityKey, &rec.FailureCount, &rec.LockoutUntil, &rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to lock login attempts: %w", err)
		}

		if err := fn(&rec); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE login_attempts
			SET failure_count = $2, lockout_until = $3, updated_at = $4
			WHERE identity_key = $1
		`, key, rec.FailureCount, rec.LockoutUntil, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update login attempts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Delete removes the record for key. Missing rows are not an error.
func (r *LoginAttemptRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts WHERE identity_key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete login attempts: %w", err)
	}
	return nil
}

// DeleteStale removes records untouched since before that are not locked.
func (r *LoginAttemptRepository) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM login_attempts
		WHERE updated_at < $1 AND (lockout_until IS NULL OR lockout_until < $1)
	`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale login attempts: %w", err)
	}
	return result.RowsAffected(), nil
}
