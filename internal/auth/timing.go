package auth

import (
	"context"
	"time"
)

// TimingConfig controls the padding applied to failed authentication attempts
type TimingConfig struct {
	MinDuration time.Duration // floor for the total time of a failed attempt
	Jitter      time.Duration // random extra on top of the floor
}

// TimingDelay pads failed attempts so "unknown account", "wrong password"
// and "locked" responses take a similar amount of time.
type TimingDelay struct {
	config TimingConfig
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

func (td *TimingDelay) target() time.Duration {
	target := td.config.MinDuration
	if td.config.Jitter > 0 {
		if extra, err := RandomIntn(int64(td.config.Jitter)); err == nil {
			target += time.Duration(extra)
		}
	}
	return target
}

// WaitFrom sleeps until at least the padded duration has passed since start.
// It returns early with ctx.Err() if ctx is cancelled.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) error {
	remaining := td.target() - time.Since(start)
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
