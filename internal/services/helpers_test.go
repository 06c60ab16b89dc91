package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/carebridge/accountsec/internal/models"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ============================================================================
// Event recording
// ============================================================================

type recordingEvents struct {
	mu     sync.Mutex
	events []EventInput
}

func (r *recordingEvents) Record(_ context.Context, in EventInput) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, in)
}

func (r *recordingEvents) ofType(eventType string) []EventInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventInput
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ============================================================================
// In-memory login attempt store
// ============================================================================

type memLoginAttemptStore struct {
	mu      sync.Mutex
	records map[string]models.LoginAttemptRecord
	GetErr  error
}

func newMemLoginAttemptStore() *memLoginAttemptStore {
	return &memLoginAttemptStore{records: make(map[string]models.LoginAttemptRecord)}
}

func (m *memLoginAttemptStore) Get(_ context.Context, key string) (*models.LoginAttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	rec, ok := m.records[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (m *memLoginAttemptStore) Update(_ context.Context, key string, fn func(*models.LoginAttemptRecord) error) (*models.LoginAttemptRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		rec = models.LoginAttemptRecord{IdentityKey: key}
	}
	if err := fn(&rec); err != nil {
		return nil, err
	}
	m.records[key] = rec
	return &rec, nil
}

func (m *memLoginAttemptStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *memLoginAttemptStore) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, rec := range m.records {
		if rec.UpdatedAt.Before(before) && (rec.LockoutUntil == nil || rec.LockoutUntil.Before(before)) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memLoginAttemptStore) record(key string) (models.LoginAttemptRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok
}

// ============================================================================
// In-memory session store
// ============================================================================

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.ActiveSession
	deletes  int
	GetErrs  []error
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]models.ActiveSession)}
}

func (m *memSessionStore) Create(_ context.Context, s *models.ActiveSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return models.ErrConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessionStore) GetByID(_ context.Context, id string) (*models.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.GetErrs) > 0 {
		err := m.GetErrs[0]
		m.GetErrs = m.GetErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return &s, nil
}

func (m *memSessionStore) ListByUser(_ context.Context, userID string) ([]*models.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ActiveSession
	for _, s := range m.sessions {
		if s.UserID == userID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *memSessionStore) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ErrSessionNotFound
	}
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	m.sessions[id] = s
	return nil
}

func (m *memSessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return models.ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.deletes++
	return nil
}

func (m *memSessionStore) DeleteForUser(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return models.ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.deletes++
	return nil
}

func (m *memSessionStore) DeleteAllExcept(_ context.Context, userID, keepID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.UserID == userID && id != keepID {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessionStore) DeleteIdle(_ context.Context, cutoff time.Time) ([]*models.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ActiveSession
	for id, s := range m.sessions {
		if !s.LastActivity.After(cutoff) {
			s := s
			out = append(out, &s)
			delete(m.sessions, id)
		}
	}
	return out, nil
}

func (m *memSessionStore) exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// ============================================================================
// Func-field mocks
// ============================================================================

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	CreateFunc           func(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetByIDFunc          func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc       func(ctx context.Context, email string) (*models.User, error)
	SetVerifiedPhoneFunc func(ctx context.Context, userID, phone string, at time.Time) error
}

func (m *MockUserRepository) Create(ctx context.Context, email, passwordHash string) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, email, passwordHash)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) SetVerifiedPhone(ctx context.Context, userID, phone string, at time.Time) error {
	if m.SetVerifiedPhoneFunc != nil {
		return m.SetVerifiedPhoneFunc(ctx, userID, phone, at)
	}
	return nil
}

// MockSecondFactor implements SecondFactor for testing
type MockSecondFactor struct {
	IsEnabledFunc func(ctx context.Context, userID string) (bool, error)
	VerifyFunc    func(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error)
}

func (m *MockSecondFactor) IsEnabled(ctx context.Context, userID string) (bool, error) {
	if m.IsEnabledFunc != nil {
		return m.IsEnabledFunc(ctx, userID)
	}
	return false, nil
}

func (m *MockSecondFactor) Verify(ctx context.Context, userID, code string) (*models.TwoFactorVerifyResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, userID, code)
	}
	return nil, models.ErrMismatch
}

// MockSMSSender implements SMSSender for testing
type MockSMSSender struct {
	SendFunc func(ctx context.Context, to, body string) error
	mu       sync.Mutex
	sent     []string
}

func (m *MockSMSSender) Send(ctx context.Context, to, body string) error {
	m.mu.Lock()
	m.sent = append(m.sent, body)
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, body)
	}
	return nil
}

func (m *MockSMSSender) lastBody() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}
