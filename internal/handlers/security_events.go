package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/carebridge/accountsec/internal/models"
	pkghttp "github.com/carebridge/accountsec/pkg/http"
)

// SecurityEventServiceInterface defines audit trail reads
type SecurityEventServiceInterface interface {
	List(ctx context.Context, userID string, limit, offset int) ([]*models.SecurityEvent, error)
}

type SecurityEventHandler struct {
	service SecurityEventServiceInterface
	logger  *slog.Logger
}

func NewSecurityEventHandler(service SecurityEventServiceInterface, logger *slog.Logger) *SecurityEventHandler {
	return &SecurityEventHandler{service: service, logger: logger}
}

type SecurityEventListResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// List returns the caller's security events, newest first
// @Param limit query int false "Max results (1-100, default 50)"
// @Param offset query int false "Pagination offset"
// @Router /security-events [get]
func (h *SecurityEventHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireClaims(w, r)
	if !ok {
		return
	}

	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	events, err := h.service.List(r.Context(), claims.UserID, limit, offset)
	if err != nil {
		WriteServiceError(w, r, h.logger, err)
		return
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventListResponse{Events: events, Limit: limit, Offset: offset})
}
