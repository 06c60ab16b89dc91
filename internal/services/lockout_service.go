package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/pkg/logger"
)

// LoginAttemptStore persists failure counters keyed by identity.
// Update must apply fn atomically with respect to other updates of the
// same key.
type LoginAttemptStore interface {
	Get(ctx context.Context, key string) (*models.LoginAttemptRecord, error)
	Update(ctx context.Context, key string, fn func(*models.LoginAttemptRecord) error) (*models.LoginAttemptRecord, error)
	Delete(ctx context.Context, key string) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// LockoutThreshold locks an identity for Duration once it has Failures
// consecutive failed logins.
type LockoutThreshold struct {
	Failures int
	Duration time.Duration
}

// DefaultLockoutThresholds escalate from 20 seconds to 10 minutes
var DefaultLockoutThresholds = []LockoutThreshold{
	{Failures: 3, Duration: 20 * time.Second},
	{Failures: 5, Duration: 60 * time.Second},
	{Failures: 7, Duration: 3 * time.Minute},
	{Failures: 10, Duration: 10 * time.Minute},
}

// Identity key scopes
const (
	KeyScopeAccount   = "account"
	KeyScopeAccountIP = "account_ip"
)

// IdentityKey builds the lockout key for a login attempt
func IdentityKey(scope, email, ip string) string {
	key := "account:" + strings.ToLower(strings.TrimSpace(email))
	if scope == KeyScopeAccountIP && ip != "" {
		key += "|ip:" + ip
	}
	return key
}

// LockoutService gates login attempts behind escalating lockouts
type LockoutService struct {
	store      LoginAttemptStore
	thresholds []LockoutThreshold
	clock      clock.Clock
	events     EventRecorder
	logger     *slog.Logger
}

func NewLockoutService(store LoginAttemptStore, clk clock.Clock, events EventRecorder, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		store:      store,
		thresholds: DefaultLockoutThresholds,
		clock:      clk,
		events:     events,
		logger:     logger,
	}
}

// Check reports whether a login attempt for key may proceed. An expired
// lockout is cleared, counter included, before the attempt is allowed.
func (s *LockoutService) Check(ctx context.Context, key string) (models.LockoutDecision, error) {
	now := s.clock.Now()

	rec, err := retryRead(ctx, func() (*models.LoginAttemptRecord, error) {
		return s.store.Get(ctx, key)
	})
	if errors.Is(err, models.ErrNotFound) {
		return models.LockoutDecision{Allowed: true}, nil
	}
	if err != nil {
		return models.LockoutDecision{}, persistenceError("check lockout", err)
	}

	if rec.IsLocked(now) {
		return models.LockoutDecision{RetryAfter: rec.LockoutUntil.Sub(now)}, nil
	}
	if rec.LockoutUntil == nil {
		return models.LockoutDecision{Allowed: true}, nil
	}

	decision := models.LockoutDecision{Allowed: true}
	_, err = s.store.Update(ctx, key, func(r *models.LoginAttemptRecord) error {
		// A concurrent failure may have locked the key again.
		if r.IsLocked(now) {
			decision = models.LockoutDecision{RetryAfter: r.LockoutUntil.Sub(now)}
			return nil
		}
		if r.LockoutUntil != nil {
			r.Clear()
			r.UpdatedAt = now
		}
		return nil
	})
	if err != nil {
		return models.LockoutDecision{}, persistenceError("clear expired lockout", err)
	}

	if decision.Allowed {
		s.logger.InfoContext(ctx, "lockout expired",
			slog.String("identity_key", logger.SanitizedIdentityKey(key)),
		)
	}
	return decision, nil
}

// RecordFailure counts one failed login and applies the lockout tier the
// new count reaches. A lockout never ends earlier than a previous one.
func (s *LockoutService) RecordFailure(ctx context.Context, key string) (models.LockoutResult, error) {
	now := s.clock.Now()

	var (
		tier      time.Duration
		triggered bool
	)
	rec, err := s.store.Update(ctx, key, func(r *models.LoginAttemptRecord) error {
		if r.LockoutUntil != nil && !r.IsLocked(now) {
			r.Clear()
		}

		r.FailureCount++
		r.UpdatedAt = now

		d, ok := s.lockoutFor(r.FailureCount)
		if !ok {
			return nil
		}
		tier = d
		until := now.Add(d)
		if r.LockoutUntil == nil || until.After(*r.LockoutUntil) {
			r.LockoutUntil = &until
			triggered = true
		}
		return nil
	})
	if err != nil {
		return models.LockoutResult{}, persistenceError("record login failure", err)
	}

	result := models.LockoutResult{FailureCount: rec.FailureCount}
	if !rec.IsLocked(now) {
		return result, nil
	}

	result.Locked = true
	result.RetryAfter = rec.LockoutUntil.Sub(now)
	if tier == 0 {
		tier = result.RetryAfter
	}
	result.Message = LockoutMessage(tier)

	if triggered {
		s.logger.WarnContext(ctx, "login lockout triggered",
			slog.String("identity_key", logger.SanitizedIdentityKey(key)),
			slog.Int("failure_count", rec.FailureCount),
			slog.Duration("lockout", tier),
		)
		s.events.Record(ctx, EventInput{
			EventType:   models.EventLockoutTriggered,
			Description: result.Message,
			Metadata: map[string]any{
				"identity_key":    logger.SanitizedIdentityKey(key),
				"failure_count":   rec.FailureCount,
				"lockout_seconds": int(tier.Seconds()),
			},
		})
	}

	return result, nil
}

// Reset clears the counter after a successful login
func (s *LockoutService) Reset(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return persistenceError("reset lockout", err)
	}
	return nil
}

// PurgeStale removes counters untouched since before
func (s *LockoutService) PurgeStale(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.store.DeleteStale(ctx, before)
	if err != nil {
		return 0, persistenceError("purge stale login attempts", err)
	}
	return n, nil
}

// lockoutFor returns the duration of the highest tier at or below count
func (s *LockoutService) lockoutFor(count int) (time.Duration, bool) {
	var (
		d     time.Duration
		found bool
	)
	for _, t := range s.thresholds {
		if count >= t.Failures {
			d = t.Duration
			found = true
		}
	}
	return d, found
}

// LockoutMessage is the user-facing text for a wait of d. Waits of a
// minute or more are shown in whole minutes, rounded up.
func LockoutMessage(d time.Duration) string {
	return "Too many failed login attempts. Please try again in " + formatWait(d) + "."
}

func formatWait(d time.Duration) string {
	if d < time.Minute {
		secs := int(math.Ceil(d.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return plural(secs, "second")
	}
	return plural(int(math.Ceil(d.Minutes())), "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
