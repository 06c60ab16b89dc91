package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/pkg/auth"
)

const maxQuestionLen = 255

// SecurityQuestionStore persists a user's recovery questions
type SecurityQuestionStore interface {
	Replace(ctx context.Context, set *models.SecurityQuestionSet) error
	GetByUserID(ctx context.Context, userID string) (*models.SecurityQuestionSet, error)
}

// SecurityQuestionService stores recovery questions with hashed answers
// and checks them during account recovery.
type SecurityQuestionService struct {
	store  SecurityQuestionStore
	guard  AttemptGuard
	events EventRecorder
	clock  clock.Clock
	cost   int
	logger *slog.Logger
}

func NewSecurityQuestionService(store SecurityQuestionStore, guard AttemptGuard, events EventRecorder, clk clock.Clock, logger *slog.Logger) *SecurityQuestionService {
	return &SecurityQuestionService{
		store:  store,
		guard:  guard,
		events: events,
		clock:  clk,
		cost:   auth.AnswerBcryptCost,
		logger: logger,
	}
}

// normalizeAnswer makes answers case and whitespace insensitive
func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// Save replaces the user's questions with exactly three new pairs
func (s *SecurityQuestionService) Save(ctx context.Context, userID string, pairs []models.QuestionAnswer) error {
	if len(pairs) != models.RequiredSecurityQuestions {
		return models.NewValidationError("exactly %d security questions are required", models.RequiredSecurityQuestions)
	}

	set := &models.SecurityQuestionSet{UserID: userID, UpdatedAt: s.clock.Now()}
	seen := make(map[string]bool, len(pairs))
	for i, p := range pairs {
		question := strings.TrimSpace(p.Question)
		answer := normalizeAnswer(p.Answer)
		if question == "" || answer == "" {
			return models.NewValidationError("question and answer %d must not be empty", i+1)
		}
		if len(question) > maxQuestionLen {
			return models.NewValidationError("question %d is too long", i+1)
		}
		key := strings.ToLower(question)
		if seen[key] {
			return models.NewValidationError("security questions must be distinct")
		}
		seen[key] = true

		hash, err := auth.HashWithCost(answer, s.cost)
		if err != nil {
			return err
		}
		set.Entries[i] = models.SecurityQuestion{Question: question, AnswerHash: hash}
	}

	if err := s.store.Replace(ctx, set); err != nil {
		return persistenceError("save security questions", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventSecurityQuestionsSaved,
		Description: "Security questions updated",
		Success:     true,
	})
	return nil
}

// Questions returns the stored question texts, in order
func (s *SecurityQuestionService) Questions(ctx context.Context, userID string) ([]string, error) {
	set, err := retryRead(ctx, func() (*models.SecurityQuestionSet, error) {
		return s.store.GetByUserID(ctx, userID)
	})
	if err != nil {
		return nil, persistenceError("load security questions", err)
	}
	return set.Questions(), nil
}

// Verify succeeds only if all three answers match. Every answer is
// checked so the time taken does not reveal which one was wrong. Failed
// attempts count towards a per-user lockout.
func (s *SecurityQuestionService) Verify(ctx context.Context, userID string, answers []string) error {
	if len(answers) != models.RequiredSecurityQuestions {
		return models.NewValidationError("exactly %d answers are required", models.RequiredSecurityQuestions)
	}
	if err := checkAttempts(ctx, s.guard, questionsKey(userID)); err != nil {
		return err
	}

	set, err := retryRead(ctx, func() (*models.SecurityQuestionSet, error) {
		return s.store.GetByUserID(ctx, userID)
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.ErrNotFound
	}
	if err != nil {
		return persistenceError("load security questions", err)
	}

	matched := true
	for i, entry := range set.Entries {
		if auth.ComparePassword(entry.AnswerHash, normalizeAnswer(answers[i])) != nil {
			matched = false
		}
	}

	if !matched {
		s.events.Record(ctx, EventInput{
			UserID:      userID,
			EventType:   models.EventSecurityQuestionsCheck,
			Description: "Security question answers did not match",
		})
		return failAttempt(ctx, s.guard, questionsKey(userID), models.ErrMismatch)
	}
	resetAttempts(ctx, s.guard, questionsKey(userID), s.logger)

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventSecurityQuestionsCheck,
		Description: "Security questions answered",
		Success:     true,
	})
	return nil
}
