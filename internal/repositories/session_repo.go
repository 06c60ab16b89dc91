package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles active session data access
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{pool: db.Pool}
}

const sessionColumns = `id, user_id, device_info, ip_address, created_at, last_activity`

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(row rowScanner) (*models.ActiveSession, error) {
	var s models.ActiveSession
	err := row.Scan(&s.ID, &s.UserID, &s.DeviceInfo, &s.IPAddress, &s.CreatedAt, &s.LastActivity)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func scanSessionRows(rows pgx.Rows) ([]*models.ActiveSession, error) {
	defer rows.Close()

	sessions := make([]*models.ActiveSession, 0)
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}

	return sessions, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *models.ActiveSession) error {
	query := `
		INSERT INTO active_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query, s.ID, s.UserID, s.DeviceInfo, s.IPAddress, s.CreatedAt, s.LastActivity)
	if err != nil {
		mapped := database.MapPostgresError(err)
		if mapped == models.ErrConflict || mapped == models.ErrBadRequest {
			return mapped
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.ActiveSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM active_sessions WHERE id = $1`

	s, err := scanSessionRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, models.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// ListByUser returns the user's sessions, most recently active first
func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*models.ActiveSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM active_sessions
		WHERE user_id = $1
		ORDER BY last_activity DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return scanSessionRows(rows)
}

// Touch moves last_activity forward. It never moves it backwards or before
// creation, and fails with models.ErrSessionNotFound once terminated.
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE active_sessions
		SET last_activity = GREATEST(last_activity, created_at, $2)
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM active_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteForUser removes a session only if userID owns it
func (r *SessionRepository) DeleteForUser(ctx context.Context, userID, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM active_sessions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}

// DeleteAllExcept removes every session of userID other than keepID
func (r *SessionRepository) DeleteAllExcept(ctx context.Context, userID, keepID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM active_sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete other sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteIdle removes sessions idle since before cutoff and returns them
func (r *SessionRepository) DeleteIdle(ctx context.Context, cutoff time.Time) ([]*models.ActiveSession, error) {
	query := `
		DELETE FROM active_sessions
		WHERE last_activity <= $1
		RETURNING ` + sessionColumns

	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return scanSessionRows(rows)
}
