package handlers_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebridge/accountsec/internal/handlers"
	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler := handlers.NewHealthHandler(&handlers.MockHealthChecker{})
		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest("GET", "/health", nil))

		var resp handlers.HealthResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, "up", resp.Database)
	})

	t.Run("database down", func(t *testing.T) {
		handler := handlers.NewHealthHandler(&handlers.MockHealthChecker{Err: errors.New("dial tcp: connection refused")})
		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest("GET", "/health", nil))

		var resp handlers.HealthResponse
		handlers.AssertJSONResponse(t, w, http.StatusServiceUnavailable, &resp)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.NotContains(t, w.Body.String(), "refused")
	})
}
