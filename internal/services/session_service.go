package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/google/uuid"
)

// SessionStore persists active sessions
type SessionStore interface {
	Create(ctx context.Context, s *models.ActiveSession) error
	GetByID(ctx context.Context, id string) (*models.ActiveSession, error)
	ListByUser(ctx context.Context, userID string) ([]*models.ActiveSession, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID, id string) error
	DeleteAllExcept(ctx context.Context, userID, keepID string) (int64, error)
	DeleteIdle(ctx context.Context, cutoff time.Time) ([]*models.ActiveSession, error)
}

// SessionService is the registry of every user's active sessions
type SessionService struct {
	store  SessionStore
	clock  clock.Clock
	events EventRecorder
	logger *slog.Logger
}

func NewSessionService(store SessionStore, clk clock.Clock, events EventRecorder, logger *slog.Logger) *SessionService {
	return &SessionService{
		store:  store,
		clock:  clk,
		events: events,
		logger: logger,
	}
}

// Register records a new session for a freshly authenticated user
func (s *SessionService) Register(ctx context.Context, userID, deviceInfo, ipAddress string) (*models.ActiveSession, error) {
	now := s.clock.Now()
	session := &models.ActiveSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		DeviceInfo:   deviceInfo,
		IPAddress:    ipAddress,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := s.store.Create(ctx, session); err != nil {
		return nil, persistenceError("register session", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventSessionCreated,
		Description: "New session started",
		Success:     true,
		IPAddress:   ipAddress,
		Metadata:    map[string]any{"session_id": session.ID, "device_info": deviceInfo},
	})
	return session, nil
}

// Get returns a session by ID
func (s *SessionService) Get(ctx context.Context, sessionID string) (*models.ActiveSession, error) {
	session, err := retryRead(ctx, func() (*models.ActiveSession, error) {
		return s.store.GetByID(ctx, sessionID)
	})
	if err != nil {
		return nil, persistenceError("get session", err)
	}
	return session, nil
}

// List returns the user's sessions, most recently active first
func (s *SessionService) List(ctx context.Context, userID string) ([]*models.ActiveSession, error) {
	sessions, err := retryRead(ctx, func() ([]*models.ActiveSession, error) {
		return s.store.ListByUser(ctx, userID)
	})
	if err != nil {
		return nil, persistenceError("list sessions", err)
	}
	return sessions, nil
}

// Touch marks activity on a session. A terminated session stays terminated.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	if err := s.store.Touch(ctx, sessionID, s.clock.Now()); err != nil {
		return persistenceError("touch session", err)
	}
	return nil
}

// Terminate ends a session regardless of owner. Used on logout and expiry.
func (s *SessionService) Terminate(ctx context.Context, sessionID string) error {
	if err := s.store.Delete(ctx, sessionID); err != nil {
		return persistenceError("terminate session", err)
	}
	return nil
}

// TerminateForUser ends one of the user's own sessions. Sessions of other
// users are reported as not found.
func (s *SessionService) TerminateForUser(ctx context.Context, userID, sessionID string) error {
	if err := s.store.DeleteForUser(ctx, userID, sessionID); err != nil {
		return persistenceError("terminate session", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventSessionTerminated,
		Description: "Session terminated",
		Success:     true,
		Metadata:    map[string]any{"session_id": sessionID},
	})
	return nil
}

// TerminateAllOthers ends every session of the user except currentID
func (s *SessionService) TerminateAllOthers(ctx context.Context, userID, currentID string) (int64, error) {
	n, err := s.store.DeleteAllExcept(ctx, userID, currentID)
	if err != nil {
		return 0, persistenceError("terminate other sessions", err)
	}

	s.events.Record(ctx, EventInput{
		UserID:      userID,
		EventType:   models.EventSessionsTerminatedOther,
		Description: "All other sessions terminated",
		Success:     true,
		Metadata:    map[string]any{"kept_session_id": currentID, "terminated": n},
	})
	return n, nil
}

// ExpireIdle removes sessions idle for at least idleTimeout and returns them
func (s *SessionService) ExpireIdle(ctx context.Context, idleTimeout time.Duration) ([]*models.ActiveSession, error) {
	expired, err := s.store.DeleteIdle(ctx, s.clock.Now().Add(-idleTimeout))
	if err != nil {
		return nil, persistenceError("expire idle sessions", err)
	}

	for _, session := range expired {
		s.recordExpired(ctx, session)
	}
	return expired, nil
}

func (s *SessionService) recordExpired(ctx context.Context, session *models.ActiveSession) {
	s.events.Record(ctx, EventInput{
		UserID:      session.UserID,
		EventType:   models.EventSessionExpired,
		Description: "Session expired after inactivity",
		Success:     true,
		IPAddress:   session.IPAddress,
		Metadata: map[string]any{
			"session_id":    session.ID,
			"last_activity": session.LastActivity.UTC().Format(time.RFC3339),
		},
	})
}

// expire terminates an idle session once. It reports false if the session
// was already gone.
func (s *SessionService) expire(ctx context.Context, session *models.ActiveSession) (bool, error) {
	err := s.store.Delete(ctx, session.ID)
	if errors.Is(err, models.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, persistenceError("expire session", err)
	}
	s.recordExpired(ctx, session)
	return true, nil
}
