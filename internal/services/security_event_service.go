package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/carebridge/accountsec/pkg/logger"
)

// EventInput describes one security-relevant outcome
type EventInput struct {
	UserID      string
	EventType   string
	Description string
	Success     bool
	IPAddress   string
	Metadata    map[string]any
}

// EventRecorder is how every component reports security outcomes.
// Recording never fails the caller.
type EventRecorder interface {
	Record(ctx context.Context, in EventInput)
}

// SecurityEventStore persists the append-only audit trail
type SecurityEventStore interface {
	Create(ctx context.Context, e *models.SecurityEvent) (*models.SecurityEvent, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
}

// EventPublisher fans stored events out to other systems
type EventPublisher interface {
	Publish(ctx context.Context, e *models.SecurityEvent) error
}

// AlertMailer notifies the account owner of sensitive changes
type AlertMailer interface {
	SendSecurityAlert(ctx context.Context, to, subject, body string) error
}

// UserLookup resolves the address alerts are sent to
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

const (
	alertTimeout     = 10 * time.Second
	publishQueueSize = 1024
)

// alertTemplates lists the successful events that trigger an owner alert
var alertTemplates = map[string]struct{ subject, body string }{
	models.EventTwoFactorDisabled: {
		"Two-factor authentication was turned off",
		"Two-factor authentication was disabled on your account at %s. If this was not you, reset your password and contact support immediately.",
	},
	models.EventTwoFactorEnabled: {
		"Two-factor authentication is now on",
		"Two-factor authentication was enabled on your account at %s.",
	},
	models.EventPhoneVerified: {
		"Your phone number was changed",
		"A new phone number was verified on your account at %s. If this was not you, contact support immediately.",
	},
	models.EventSecurityQuestionsSaved: {
		"Your security questions were updated",
		"Your account recovery questions were changed at %s. If this was not you, contact support immediately.",
	},
}

// SecurityEventService writes events to the log stream and the database,
// then optionally publishes them and alerts the account owner.
type SecurityEventService struct {
	store     SecurityEventStore
	audit     *logger.AuditLogger
	publisher EventPublisher
	mailer    AlertMailer
	users     UserLookup
	clock     clock.Clock
	logger    *slog.Logger

	// Publishing runs on one worker fed by outbox; closed stops new sends.
	mu      sync.RWMutex
	closed  bool
	outbox  chan queuedEvent
	drained chan struct{}
}

type queuedEvent struct {
	ctx   context.Context
	event *models.SecurityEvent
}

func NewSecurityEventService(store SecurityEventStore, clk clock.Clock, log *slog.Logger) *SecurityEventService {
	return &SecurityEventService{
		store:  store,
		audit:  logger.NewAuditLogger(log),
		clock:  clk,
		logger: log,
	}
}

// WithPublisher enables fan-out of stored events. Publishing happens on a
// background worker so a slow broker never delays Record; call Close to
// flush it on shutdown.
func (s *SecurityEventService) WithPublisher(p EventPublisher) *SecurityEventService {
	return s.withPublisherQueue(p, publishQueueSize)
}

func (s *SecurityEventService) withPublisherQueue(p EventPublisher, size int) *SecurityEventService {
	s.publisher = p
	s.outbox = make(chan queuedEvent, size)
	s.drained = make(chan struct{})
	go s.publishLoop()
	return s
}

func (s *SecurityEventService) publishLoop() {
	defer close(s.drained)
	for q := range s.outbox {
		if err := s.publisher.Publish(q.ctx, q.event); err != nil {
			s.logger.WarnContext(q.ctx, "failed to publish security event",
				slog.String("event_type", q.event.EventType),
				slog.Any("error", err),
			)
		}
	}
}

// enqueue hands e to the publish worker without blocking. Events are
// dropped when the queue is full or the service is closed.
func (s *SecurityEventService) enqueue(ctx context.Context, e *models.SecurityEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.outbox <- queuedEvent{ctx: context.WithoutCancel(ctx), event: e}:
	default:
		s.logger.WarnContext(ctx, "security event publish queue full, event dropped",
			slog.String("event_type", e.EventType),
		)
	}
}

// Close stops publishing and waits until queued events are sent or ctx
// ends.
func (s *SecurityEventService) Close(ctx context.Context) error {
	if s.outbox == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.outbox)
	}
	s.mu.Unlock()

	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WithAlerts enables owner notification mails
func (s *SecurityEventService) WithAlerts(mailer AlertMailer, users UserLookup) *SecurityEventService {
	s.mailer = mailer
	s.users = users
	return s
}

func (s *SecurityEventService) Record(ctx context.Context, in EventInput) {
	now := s.clock.Now()

	s.audit.Log(ctx, logger.AuditEntry{
		EventType:   in.EventType,
		UserID:      in.UserID,
		IPAddress:   in.IPAddress,
		Description: in.Description,
		Success:     in.Success,
		Metadata:    in.Metadata,
		OccurredAt:  now,
	})

	event := &models.SecurityEvent{
		EventType:   in.EventType,
		Description: in.Description,
		Status:      models.EventStatusFailure,
		Metadata:    models.EventMetadata(in.Metadata),
		CreatedAt:   now,
	}
	if in.Success {
		event.Status = models.EventStatusSuccess
	}
	if in.UserID != "" {
		event.UserID = &in.UserID
	}
	if in.IPAddress != "" {
		event.IPAddress = &in.IPAddress
	}

	stored, err := s.store.Create(ctx, event)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", in.EventType),
			slog.Any("error", err),
		)
		stored = event
	}

	if s.outbox != nil {
		s.enqueue(ctx, stored)
	}

	if in.Success && in.UserID != "" {
		s.sendAlert(ctx, in.UserID, in.EventType, now)
	}
}

func (s *SecurityEventService) sendAlert(ctx context.Context, userID, eventType string, at time.Time) {
	tmpl, ok := alertTemplates[eventType]
	if !ok || s.mailer == nil || s.users == nil {
		return
	}

	// The request may finish before the mail does.
	go func() {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
		defer cancel()

		user, err := s.users.GetByID(alertCtx, userID)
		if err != nil {
			s.logger.Warn("security alert skipped: user lookup failed",
				slog.String("user_id", userID),
				slog.Any("error", err),
			)
			return
		}

		body := fmt.Sprintf(tmpl.body, at.Format(time.RFC1123))
		if err := s.mailer.SendSecurityAlert(alertCtx, user.Email, tmpl.subject, body); err != nil {
			s.logger.Warn("failed to send security alert",
				slog.String("user_id", userID),
				slog.String("event_type", eventType),
				slog.Any("error", err),
			)
		}
	}()
}

// List returns a page of the user's audit trail, newest first
func (s *SecurityEventService) List(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	events, err := retryRead(ctx, func() ([]*models.SecurityEvent, error) {
		return s.store.ListByUser(ctx, userID, limit, offset)
	})
	if err != nil {
		return nil, persistenceError("list security events", err)
	}
	return events, nil
}
