package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository is the credential store adapter over the users table.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

const userColumns = `id, email, password_hash, phone_number, phone_verified, created_at, updated_at`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash,
		&user.PhoneNumber, &user.PhoneVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) Create(ctx context.Context, email, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash)
		VALUES (LOWER($1), $2)
		RETURNING ` + userColumns

	user, err := scanUserRow(r.pool.QueryRow(ctx, query, email, passwordHash))
	if err != nil {
		if err == models.ErrConflict {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUserRow(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUserRow(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email))
	if err != nil {
		if err == models.ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// SetVerifiedPhone records phone as the user's verified number
func (r *UserRepository) SetVerifiedPhone(ctx context.Context, userID, phone string, at time.Time) error {
	query := `
		UPDATE users
		SET phone_number = $2, phone_verified = TRUE, updated_at = $3
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, userID, phone, at)
	if err != nil {
		return fmt.Errorf("failed to update phone number: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
