package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebridge/accountsec/internal/database"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SecurityQuestionRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityQuestionRepository(db *database.DB) *SecurityQuestionRepository {
	return &SecurityQuestionRepository{pool: db.Pool}
}

// Replace stores the whole set in one statement, so readers see either the
// previous three pairs or the new three pairs.
func (r *SecurityQuestionRepository) Replace(ctx context.Context, set *models.SecurityQuestionSet) error {
	query := `
		INSERT INTO security_questions
			(user_id, question_1, answer_hash_1, question_2, answer_hash_2, question_3, answer_hash_3, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			question_1 = EXCLUDED.question_1, answer_hash_1 = EXCLUDED.answer_hash_1,
			question_2 = EXCLUDED.question_2, answer_hash_2 = EXCLUDED.answer_hash_2,
			question_3 = EXCLUDED.question_3, answer_hash_3 = EXCLUDED.answer_hash_3,
			updated_at = EXCLUDED.updated_at
	`

	e := set.Entries
	_, err := r.pool.Exec(ctx, query, set.UserID,
		e[0].Question, e[0].AnswerHash,
		e[1].Question, e[1].AnswerHash,
		e[2].Question, e[2].AnswerHash,
		set.UpdatedAt,
	)
	if err != nil {
		if database.MapPostgresError(err) == models.ErrBadRequest {
			return models.ErrNotFound
		}
		return fmt.Errorf("failed to save security questions: %w", err)
	}

	return nil
}

func (r *SecurityQuestionRepository) GetByUserID(ctx context.Context, userID string) (*models.SecurityQuestionSet, error) {
	query := `
		SELECT user_id, question_1, answer_hash_1, question_2, answer_hash_2,
		       question_3, answer_hash_3, updated_at
		FROM security_questions
		WHERE user_id = $1
	`

	var set models.SecurityQuestionSet
	e := &set.Entries
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&set.UserID,
		&e[0].Question, &e[0].AnswerHash,
		&e[1].Question, &e[1].AnswerHash,
		&e[2].Question, &e[2].AnswerHash,
		&set.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get security questions: %w", err)
	}

	return &set, nil
}
