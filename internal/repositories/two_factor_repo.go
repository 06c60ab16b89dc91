package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// TwoFactorRepository defines TOTP enrolment persistence operations
type TwoFactorRepository interface {
	UpsertPending(ctx context.Context, cfg *models.TwoFactorConfig) error
	GetByUserID(ctx context.Context, userID string) (*models.TwoFactorConfig, error)
	ConsumeStep(ctx context.Context, userID string, step int64, at time.Time) (bool, error)
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (int, error)
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	Delete(ctx context.Context, userID string) error
}

// twoFactorRepoImpl implements TwoFactorRepository
type twoFactorRepoImpl struct {
	db *pgxpool.Pool
}

// NewTwoFactorRepository creates a new two-factor repository
func NewTwoFactorRepository(db *database.DB) TwoFactorRepository {
	return &twoFactorRepoImpl{db: db.Pool}
}

// UpsertPending stores a fresh, disabled enrolment. An enabled enrolment is
// never overwritten; that case returns models.ErrConflict.
func (r *twoFactorRepoImpl) UpsertPending(ctx context.Context, cfg *models.TwoFactorConfig) error {
	query := `
		INSERT INTO two_factor_auth
			(user_id, secret_encrypted, secret_nonce, backup_codes, enabled, verified_at, last_used_step, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NULL, NULL, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_encrypted = EXCLUDED.secret_encrypted,
			secret_nonce     = EXCLUDED.secret_nonce,
			backup_codes     = EXCLUDED.backup_codes,
			verified_at      = NULL,
			last_used_step   = NULL,
			created_at       = EXCLUDED.created_at
		WHERE two_factor_auth.enabled = FALSE
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		cfg.UserID,
		cfg.SecretEncrypted,
		cfg.SecretNonce,
		pq.Array(cfg.BackupCodeHashes),
		cfg.CreatedAt,
	).Scan(&cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrConflict
		}
		if mapped := database.MapPostgresError(err); mapped == models.ErrBadRequest {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to store two-factor enrolment: %w", err)
	}

	return nil
}

// GetByUserID retrieves the enrolment for a user
func (r *twoFactorRepoImpl) GetByUserID(ctx context.Context, userID string) (*models.TwoFactorConfig, error) {
	cfg := &models.TwoFactorConfig{}

	query := `
		SELECT user_id, secret_encrypted, secret_nonce, backup_codes,
		       enabled, verified_at, last_used_step, created_at
		FROM two_factor_auth
		WHERE user_id = $1
	`

	err := r.db.QueryRow(ctx, query, userID).Scan(
		&cfg.UserID,
		&cfg.SecretEncrypted,
		&cfg.SecretNonce,
		pq.Array(&cfg.BackupCodeHashes),
		&cfg.Enabled,
		&cfg.VerifiedAt,
		&cfg.LastUsedStep,
		&cfg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get two-factor enrolment: %w", err)
	}

	return cfg, nil
}

// ConsumeStep records step as used and enables the enrolment. It reports
// false when step is not newer than the last accepted one (replay).
func (r *twoFactorRepoImpl) ConsumeStep(ctx context.Context, userID string, step int64, at time.Time) (bool, error) {
	query := `
		UPDATE two_factor_auth
		SET last_used_step = $2,
		    enabled = TRUE,
		    verified_at = COALESCE(verified_at, $3)
		WHERE user_id = $1 AND (last_used_step IS NULL OR last_used_step < $2)
	`

	result, err := r.db.Exec(ctx, query, userID, step, at)
	if err != nil {
		return false, fmt.Errorf("failed to record TOTP step: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// ConsumeBackupCode removes codeHash from an enabled enrolment and returns
// how many codes remain. A code that is absent returns models.ErrNotFound.
func (r *twoFactorRepoImpl) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (int, error) {
	query := `
		UPDATE two_factor_auth
		SET backup_codes = array_remove(backup_codes, $2)
		WHERE user_id = $1 AND enabled = TRUE AND $2 = ANY(backup_codes)
		RETURNING cardinality(backup_codes)
	`

	var remaining int
	err := r.db.QueryRow(ctx, query, userID, codeHash).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, fmt.Errorf("failed to consume backup code: %w", err)
	}

	return remaining, nil
}

// ReplaceBackupCodes overwrites the backup codes of an enabled enrolment
func (r *twoFactorRepoImpl) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	query := `
		UPDATE two_factor_auth
		SET backup_codes = $2
		WHERE user_id = $1 AND enabled = TRUE
	`

	result, err := r.db.Exec(ctx, query, userID, pq.Array(codeHashes))
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Delete removes the enrolment entirely
func (r *twoFactorRepoImpl) Delete(ctx context.Context, userID string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM two_factor_auth WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete two-factor enrolment: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
