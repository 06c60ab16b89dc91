package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
)

// PhoneCodePurger deletes phone codes that expired before cutoff
type PhoneCodePurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// LoginAttemptPurger deletes failure counters untouched since before
type LoginAttemptPurger interface {
	PurgeStale(ctx context.Context, before time.Time) (int64, error)
}

// IdleSessionSweeper terminates sessions idle for at least idleTimeout
type IdleSessionSweeper interface {
	ExpireIdle(ctx context.Context, idleTimeout time.Duration) ([]*models.ActiveSession, error)
}

type CleanupConfig struct {
	// Interval between purges of phone codes and login attempts
	Interval time.Duration
	// SweepInterval between idle session sweeps
	SweepInterval      time.Duration
	PhoneCodeRetention time.Duration
	AttemptRetention   time.Duration
	IdleTimeout        time.Duration
}

// CleanupManager runs periodic housekeeping: expired phone codes, stale
// lockout counters and sessions nobody is polling.
type CleanupManager struct {
	phoneCodes PhoneCodePurger
	attempts   LoginAttemptPurger
	sessions   IdleSessionSweeper
	config     CleanupConfig
	clock      clock.Clock
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

func NewCleanupManager(
	phoneCodes PhoneCodePurger,
	attempts LoginAttemptPurger,
	sessions IdleSessionSweeper,
	config CleanupConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *CleanupManager {
	return &CleanupManager{
		phoneCodes: phoneCodes,
		attempts:   attempts,
		sessions:   sessions,
		config:     config,
		clock:      clk,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is done
func (cm *CleanupManager) Start(ctx context.Context) {
	purgeTicker := time.NewTicker(cm.config.Interval)
	defer purgeTicker.Stop()
	sweepTicker := time.NewTicker(cm.config.SweepInterval)
	defer sweepTicker.Stop()

	// Run immediately on startup
	cm.RunPurge(ctx)
	cm.RunSweep(ctx)

	for {
		select {
		case <-purgeTicker.C:
			cm.RunPurge(ctx)
		case <-sweepTicker.C:
			cm.RunSweep(ctx)
		case <-cm.stopCh:
			cm.logger.Info("cleanup manager stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("cleanup manager context cancelled")
			return
		}
	}
}

// RunPurge removes expired phone codes and stale login attempt counters
func (cm *CleanupManager) RunPurge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := cm.clock.Now()

	codes, err := cm.phoneCodes.PurgeExpired(ctx, now.Add(-cm.config.PhoneCodeRetention))
	if err != nil {
		cm.logger.Error("failed to purge expired phone codes", slog.Any("error", err))
	} else if codes > 0 {
		cm.logger.Info("expired phone codes purged", slog.Int64("rows_deleted", codes))
	}

	attempts, err := cm.attempts.PurgeStale(ctx, now.Add(-cm.config.AttemptRetention))
	if err != nil {
		cm.logger.Error("failed to purge stale login attempts", slog.Any("error", err))
	} else if attempts > 0 {
		cm.logger.Info("stale login attempts purged", slog.Int64("rows_deleted", attempts))
	}
}

// RunSweep terminates idle sessions
func (cm *CleanupManager) RunSweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	expired, err := cm.sessions.ExpireIdle(ctx, cm.config.IdleTimeout)
	if err != nil {
		cm.logger.Error("failed to sweep idle sessions", slog.Any("error", err))
		return
	}
	if len(expired) > 0 {
		cm.logger.Info("idle sessions expired", slog.Int("count", len(expired)))
	}
}

// Stop signals the cleanup manager to stop. It is safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
