package repositories

import (
	"context"
	"fmt"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository appends to and reads the security audit trail
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

const securityEventColumns = `id, user_id, event_type, description, status, ip_address, metadata, created_at`

func scanSecurityEventRow(row rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent

	err := row.Scan(
		&e.ID, &e.UserID, &e.EventType, &e.Description,
		&e.Status, &e.IPAddress, &e.Metadata, &e.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create appends an event and returns the stored row
func (r *SecurityEventRepository) Create(ctx context.Context, e *models.SecurityEvent) (*models.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (user_id, event_type, description, status, ip_address, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + securityEventColumns

	result, err := scanSecurityEventRow(r.pool.QueryRow(ctx, query,
		e.UserID, e.EventType, e.Description, e.Status, e.IPAddress, e.Metadata, e.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create security event: %w", err)
	}

	return result, nil
}

// ListByUser returns a page of a user's events, newest first
func (r *SecurityEventRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}
