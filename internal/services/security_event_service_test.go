package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carebridge/accountsec/internal/clock"
	"github.com/carebridge/accountsec/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSecurityEventStore implements SecurityEventStore for testing
type MockSecurityEventStore struct {
	CreateFunc     func(ctx context.Context, e *models.SecurityEvent) (*models.SecurityEvent, error)
	ListByUserFunc func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
	created        []*models.SecurityEvent
}

func (m *MockSecurityEventStore) Create(ctx context.Context, e *models.SecurityEvent) (*models.SecurityEvent, error) {
	m.created = append(m.created, e)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	stored := *e
	stored.ID = uuid.New()
	return &stored, nil
}

func (m *MockSecurityEventStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID, limit, offset)
	}
	return []*models.SecurityEvent{}, nil
}

type MockEventPublisher struct {
	PublishFunc func(ctx context.Context, e *models.SecurityEvent) error
	mu          sync.Mutex
	published   []*models.SecurityEvent
}

func (m *MockEventPublisher) Publish(ctx context.Context, e *models.SecurityEvent) error {
	m.mu.Lock()
	m.published = append(m.published, e)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, e)
	}
	return nil
}

type alert struct{ to, subject, body string }

type chanAlertMailer struct {
	sent chan alert
}

func (m *chanAlertMailer) SendSecurityAlert(_ context.Context, to, subject, body string) error {
	m.sent <- alert{to, subject, body}
	return nil
}

func newTestEventService(store *MockSecurityEventStore) *SecurityEventService {
	return NewSecurityEventService(store, clock.NewFake(testStart), discardLogger())
}

func TestSecurityEventService_Record(t *testing.T) {
	store := &MockSecurityEventStore{}
	publisher := &MockEventPublisher{}
	svc := newTestEventService(store).WithPublisher(publisher)

	svc.Record(context.Background(), EventInput{
		UserID:      "user-1",
		EventType:   models.EventLoginSucceeded,
		Description: "Login succeeded",
		Success:     true,
		IPAddress:   "10.0.0.1",
		Metadata:    map[string]any{"session_id": "s-1"},
	})

	require.Len(t, store.created, 1)
	e := store.created[0]
	assert.Equal(t, models.EventStatusSuccess, e.Status)
	require.NotNil(t, e.UserID)
	assert.Equal(t, "user-1", *e.UserID)
	require.NotNil(t, e.IPAddress)
	assert.Equal(t, "10.0.0.1", *e.IPAddress)
	assert.Equal(t, testStart, e.CreatedAt)
	assert.Equal(t, "s-1", e.Metadata["session_id"])

	require.NoError(t, svc.Close(context.Background()))
	require.Len(t, publisher.published, 1)
	assert.NotEqual(t, uuid.Nil, publisher.published[0].ID)
}

func TestSecurityEventService_Record_AnonymousFailure(t *testing.T) {
	store := &MockSecurityEventStore{}
	svc := newTestEventService(store)

	svc.Record(context.Background(), EventInput{EventType: models.EventLockoutTriggered})

	require.Len(t, store.created, 1)
	assert.Nil(t, store.created[0].UserID)
	assert.Nil(t, store.created[0].IPAddress)
	assert.Equal(t, models.EventStatusFailure, store.created[0].Status)
}

func TestSecurityEventService_Record_StoreFailureStillPublishes(t *testing.T) {
	store := &MockSecurityEventStore{
		CreateFunc: func(ctx context.Context, e *models.SecurityEvent) (*models.SecurityEvent, error) {
			return nil, errors.New("connection refused")
		},
	}
	publisher := &MockEventPublisher{
		PublishFunc: func(ctx context.Context, e *models.SecurityEvent) error {
			return errors.New("broker down")
		},
	}
	svc := newTestEventService(store).WithPublisher(publisher)

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventLogout, Success: true})
	})
	require.NoError(t, svc.Close(context.Background()))
	assert.Len(t, publisher.published, 1)
}

// blockingPublisher holds every Publish call until release is closed
func blockingPublisher() (*MockEventPublisher, chan struct{}, chan struct{}) {
	started := make(chan struct{}, 16)
	release := make(chan struct{})
	return &MockEventPublisher{
		PublishFunc: func(ctx context.Context, e *models.SecurityEvent) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}, started, release
}

func TestSecurityEventService_Record_DoesNotWaitForPublisher(t *testing.T) {
	store := &MockSecurityEventStore{}
	publisher, started, release := blockingPublisher()
	svc := newTestEventService(store).WithPublisher(publisher)

	returned := make(chan struct{})
	go func() {
		svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventLogout, Success: true})
		svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventLoginSucceeded, Success: true})
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on the publisher")
	}
	<-started
	assert.Len(t, store.created, 2)

	close(release)
	require.NoError(t, svc.Close(context.Background()))
	assert.Len(t, publisher.published, 2)
}

func TestSecurityEventService_Record_DropsWhenQueueFull(t *testing.T) {
	publisher, started, release := blockingPublisher()
	svc := newTestEventService(&MockSecurityEventStore{}).withPublisherQueue(publisher, 1)
	ctx := context.Background()

	svc.Record(ctx, EventInput{EventType: models.EventLockoutTriggered})
	<-started
	svc.Record(ctx, EventInput{EventType: models.EventLockoutTriggered})
	svc.Record(ctx, EventInput{EventType: models.EventLockoutTriggered})

	close(release)
	require.NoError(t, svc.Close(ctx))
	assert.Len(t, publisher.published, 2)
}

func TestSecurityEventService_Close(t *testing.T) {
	publisher, started, release := blockingPublisher()
	svc := newTestEventService(&MockSecurityEventStore{}).WithPublisher(publisher)

	svc.Record(context.Background(), EventInput{EventType: models.EventLogout})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, svc.Close(context.Background()))

	// Events recorded after Close are stored but not published.
	svc.Record(context.Background(), EventInput{EventType: models.EventLogout})
	assert.Len(t, publisher.published, 1)
	assert.NoError(t, newTestEventService(&MockSecurityEventStore{}).Close(context.Background()))
}

func TestSecurityEventService_Record_SendsAlert(t *testing.T) {
	mailer := &chanAlertMailer{sent: make(chan alert, 1)}
	users := &MockUserRepository{
		GetByIDFunc: func(ctx context.Context, id string) (*models.User, error) {
			return &models.User{ID: id, Email: "patient@example.com"}, nil
		},
	}
	svc := newTestEventService(&MockSecurityEventStore{}).WithAlerts(mailer, users)

	svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventTwoFactorDisabled, Success: true})

	select {
	case a := <-mailer.sent:
		assert.Equal(t, "patient@example.com", a.to)
		assert.Equal(t, "Two-factor authentication was turned off", a.subject)
		assert.True(t, strings.Contains(a.body, "disabled"))
	case <-time.After(time.Second):
		t.Fatal("expected a security alert")
	}
}

func TestSecurityEventService_Record_NoAlertForFailuresOrOtherEvents(t *testing.T) {
	mailer := &chanAlertMailer{sent: make(chan alert, 2)}
	svc := newTestEventService(&MockSecurityEventStore{}).WithAlerts(mailer, &MockUserRepository{})

	svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventTwoFactorDisabled})
	svc.Record(context.Background(), EventInput{UserID: "user-1", EventType: models.EventLoginSucceeded, Success: true})

	select {
	case <-mailer.sent:
		t.Fatal("unexpected alert")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSecurityEventService_List(t *testing.T) {
	var gotLimit, gotOffset int
	store := &MockSecurityEventStore{
		ListByUserFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
			gotLimit, gotOffset = limit, offset
			return []*models.SecurityEvent{{EventType: models.EventLogout}}, nil
		},
	}
	svc := newTestEventService(store)

	events, err := svc.List(context.Background(), "user-1", 500, -3)

	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 50, gotLimit)
	assert.Equal(t, 0, gotOffset)
}

func TestSecurityEventService_List_RetriesOnce(t *testing.T) {
	calls := 0
	store := &MockSecurityEventStore{
		ListByUserFunc: func(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error) {
			calls++
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestEventService(store)

	_, err := svc.List(context.Background(), "user-1", 10, 0)

	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Equal(t, 2, calls)
}
