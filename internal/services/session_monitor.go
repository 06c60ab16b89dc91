package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
)

// Evaluate classifies a session by how long it has been idle at now.
// Remaining is the time left until expiry.
func Evaluate(policy models.SessionTimeoutPolicy, lastActivity, now time.Time) models.MonitorStatus {
	idle := now.Sub(lastActivity)
	if idle < 0 {
		idle = 0
	}

	switch {
	case idle >= policy.IdleTimeout:
		return models.MonitorStatus{State: models.SessionStateExpired}
	case idle >= policy.IdleTimeout-policy.WarningLeadTime:
		return models.MonitorStatus{State: models.SessionStateWarning, Remaining: policy.IdleTimeout - idle}
	default:
		return models.MonitorStatus{State: models.SessionStateActive, Remaining: policy.IdleTimeout - idle}
	}
}

// ExpireFunc is told once when a monitored session ends, so the owning
// client can drop its credentials.
type ExpireFunc func(ctx context.Context, sessionID string)

// SessionMonitor tracks the idle state of one session: active, then
// warning, then expired. Expired is terminal; the session is terminated
// exactly once when it is reached.
type SessionMonitor struct {
	sessionID string
	sessions  *SessionService
	policy    models.SessionTimeoutPolicy
	clock     clock.Clock
	onExpire  ExpireFunc
	logger    *slog.Logger

	mu    sync.Mutex
	state models.SessionState
}

// NewSessionMonitor builds a monitor for sessionID. onExpire may be nil; it
// runs without the monitor's lock held.
func NewSessionMonitor(sessionID string, sessions *SessionService, policy models.SessionTimeoutPolicy, clk clock.Clock, onExpire ExpireFunc, logger *slog.Logger) (*SessionMonitor, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session timeout policy: %w", err)
	}
	return &SessionMonitor{
		sessionID: sessionID,
		sessions:  sessions,
		policy:    policy,
		clock:     clk,
		onExpire:  onExpire,
		logger:    logger,
		state:     models.SessionStateActive,
	}, nil
}

// State returns the last observed state
func (m *SessionMonitor) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Poll observes the session without counting as activity. Reaching the
// idle timeout terminates the session.
func (m *SessionMonitor) Poll(ctx context.Context) (models.MonitorStatus, error) {
	if m.State() == models.SessionStateExpired {
		return models.MonitorStatus{State: models.SessionStateExpired}, nil
	}

	session, err := m.sessions.Get(ctx, m.sessionID)
	if errors.Is(err, models.ErrSessionNotFound) {
		// Terminated elsewhere.
		m.transition(ctx, models.SessionStateExpired)
		return models.MonitorStatus{State: models.SessionStateExpired}, nil
	}
	if err != nil {
		return models.MonitorStatus{}, err
	}

	status := Evaluate(m.policy, session.LastActivity, m.clock.Now())
	if status.State == models.SessionStateExpired {
		return status, m.expire(ctx, session)
	}

	m.transition(ctx, status.State)
	return status, nil
}

// Extend records activity so the idle clock restarts. An expired session
// cannot be extended.
func (m *SessionMonitor) Extend(ctx context.Context) (models.MonitorStatus, error) {
	status, err := m.Poll(ctx)
	if err != nil {
		return models.MonitorStatus{}, err
	}
	if status.State == models.SessionStateExpired {
		return status, models.ErrExpired
	}

	if err := m.sessions.Touch(ctx, m.sessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			m.transition(ctx, models.SessionStateExpired)
			return models.MonitorStatus{State: models.SessionStateExpired}, models.ErrExpired
		}
		return models.MonitorStatus{}, err
	}

	m.transition(ctx, models.SessionStateActive)
	return models.MonitorStatus{State: models.SessionStateActive, Remaining: m.policy.IdleTimeout}, nil
}

// Run polls every interval until the session expires or ctx is done.
// Poll errors are logged and retried on the next tick.
func (m *SessionMonitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := m.Poll(ctx)
		if err != nil {
			m.logger.WarnContext(ctx, "session poll failed",
				slog.String("session_id", m.sessionID),
				slog.Any("error", err),
			)
		} else if status.State == models.SessionStateExpired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *SessionMonitor) expire(ctx context.Context, session *models.ActiveSession) error {
	m.mu.Lock()
	already := m.state == models.SessionStateExpired
	m.state = models.SessionStateExpired
	m.mu.Unlock()

	if already {
		return nil
	}

	m.logger.InfoContext(ctx, "session expired",
		slog.String("session_id", session.ID),
		slog.String("user_id", session.UserID),
	)
	_, err := m.sessions.expire(ctx, session)
	m.notifyExpired(ctx)
	return err
}

func (m *SessionMonitor) notifyExpired(ctx context.Context) {
	if m.onExpire != nil {
		m.onExpire(ctx, m.sessionID)
	}
}

func (m *SessionMonitor) transition(ctx context.Context, next models.SessionState) {
	m.mu.Lock()
	prev := m.state
	if prev != models.SessionStateExpired {
		m.state = next
	}
	m.mu.Unlock()

	if prev != next && prev != models.SessionStateExpired {
		m.logger.DebugContext(ctx, "session state changed",
			slog.String("session_id", m.sessionID),
			slog.String("from", string(prev)),
			slog.String("to", string(next)),
		)
		if next == models.SessionStateExpired {
			m.notifyExpired(ctx)
		}
	}
}

// SessionGate enforces the idle policy on authenticated requests
type SessionGate struct {
	sessions *SessionService
	policy   models.SessionTimeoutPolicy
	clock    clock.Clock
	logger   *slog.Logger
}

func NewSessionGate(sessions *SessionService, policy models.SessionTimeoutPolicy, clk clock.Clock, logger *slog.Logger) (*SessionGate, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session timeout policy: %w", err)
	}
	return &SessionGate{sessions: sessions, policy: policy, clock: clk, logger: logger}, nil
}

// Authorize checks that sessionID is a live session of userID. An idle
// session is terminated and ErrExpired returned; otherwise the session is
// touched when touch is set.
func (g *SessionGate) Authorize(ctx context.Context, userID, sessionID string, touch bool) error {
	session, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return models.ErrSessionNotFound
	}

	if Evaluate(g.policy, session.LastActivity, g.clock.Now()).State == models.SessionStateExpired {
		if _, err := g.sessions.expire(ctx, session); err != nil {
			g.logger.ErrorContext(ctx, "failed to terminate idle session",
				slog.String("session_id", sessionID),
				slog.Any("error", err),
			)
		}
		return models.ErrExpired
	}

	if !touch {
		return nil
	}
	return g.sessions.Touch(ctx, sessionID)
}

// Monitor returns a timeout monitor for one session. Server-side monitors
// need no expire hook: the access token stops working with the session row.
func (g *SessionGate) Monitor(sessionID string) *SessionMonitor {
	return &SessionMonitor{
		sessionID: sessionID,
		sessions:  g.sessions,
		policy:    g.policy,
		clock:     g.clock,
		logger:    g.logger,
		state:     models.SessionStateActive,
	}
}

// Policy returns the enforced idle policy
func (g *SessionGate) Policy() models.SessionTimeoutPolicy {
	return g.policy
}
