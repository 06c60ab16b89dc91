package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionServiceInterface defines session listing and termination
type SessionServiceInterface interface {
	List(ctx context.Context, userID string) ([]*models.ActiveSession, error)
	TerminateForUser(ctx context.Context, userID, sessionID string) error
	TerminateAllOthers(ctx context.Context, userID, currentID string) (int64, error)
}

// TimeoutMonitor observes and extends one session's idle timer
type TimeoutMonitor interface {
	Poll(ctx context.Context) (models.MonitorStatus, error)
	Extend(ctx context.Context) (models.MonitorStatus, error)
}

// MonitorFactory builds a TimeoutMonitor for a session ID
type MonitorFactory func(sessionID string) TimeoutMonitor

type SessionHandler struct {
	service  SessionServiceInterface
	monitors MonitorFactory
	policy   models.SessionTimeoutPolicy
	logger   *slog.Logger
}

func NewSessionHandler(service SessionServiceInterface, monitors MonitorFactory, policy models.SessionTimeoutPolicy, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{service: service, monitors: monitors, policy: policy, logger: logger}
}

// SessionResponse is one entry of the session list
type SessionResponse struct {
	ID           string    `json:"id"`
	DeviceInfo   string    `json:"device_info"`
	IPAddress    string    `json:"ip_address"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	Current      bool      `json:"current"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type TerminateOthersResponse struct {
	Terminated int64 `json:"terminated"`
}

// SessionTimeoutResponse tells a client when to warn and when to log out
type SessionTimeoutResponse struct {
	State              models.SessionState `json:"state"`
	RemainingSeconds   int64               `json:"remaining_seconds"`
	IdleTimeoutSeconds int64               `json:"idle_timeout_seconds"`
	WarningLeadSeconds int64               `json:"warning_lead_seconds"`
}

// List returns the caller's live sessions
// @Router /sessions [get]
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	sessions, err := h.service.List(r.Context(), claims.UserID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, SessionResponse{
			ID:           s.ID,
			DeviceInfo:   s.DeviceInfo,
			IPAddress:    s.IPAddress,
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
			Current:      s.ID == claims.SessionID,
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// Terminate ends one of the caller's sessions
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		pkghttp.WriteBadRequest(w, "Session ID is required")
		return
	}

	if err := h.service.TerminateForUser(r.Context(), claims.UserID, sessionID); err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// TerminateOthers ends every session of the caller except the current one
// @Router /sessions/terminate-others [post]
func (h *SessionHandler) TerminateOthers(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	n, err := h.service.TerminateAllOthers(r.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TerminateOthersResponse{Terminated: n})
}

// Timeout reports the idle state of the current session. It must be
// mounted behind passive authentication so that polling is not activity.
// @Router /sessions/current/timeout [get]
func (h *SessionHandler) Timeout(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	status, err := h.monitors(claims.SessionID).Poll(r.Context())
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	h.writeTimeout(w, status)
}

// Extend restarts the idle timer after the user confirms the warning
// @Router /sessions/current/extend [post]
func (h *SessionHandler) Extend(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	status, err := h.monitors(claims.SessionID).Extend(r.Context())
	if err != nil {
		if errors.Is(err, models.ErrExpired) {
			pkghttp.WriteError(w, http.StatusUnauthorized, "session_expired", "Your session has expired due to inactivity")
			return
		}
		WriteServiceError(w, r, h.logger, err)
		return
	}
	h.writeTimeout(w, status)
}

func (h *SessionHandler) writeTimeout(w http.ResponseWriter, status models.MonitorStatus) {
	pkghttp.WriteJSON(w, http.StatusOK, SessionTimeoutResponse{
		State:              status.State,
		RemainingSeconds:   int64(status.Remaining / time.Second),
		IdleTimeoutSeconds: int64(h.policy.IdleTimeout / time.Second),
		WarningLeadSeconds: int64(h.policy.WarningLeadTime / time.Second),
	})
}
