package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/warden/internal/handlers"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

func TestHealth(t *testing.T) {
	healthy := checkFunc(func(ctx context.Context) error { return nil })
	broken := checkFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name   string
		checks map[string]handlers.HealthChecker
		status int
		want   string
	}{
		{"no dependencies", nil, http.StatusOK, "ok"},
		{"all healthy", map[string]handlers.HealthChecker{"database": healthy}, http.StatusOK, "ok"},
		{"one broken", map[string]handlers.HealthChecker{"database": healthy, "ledger": broken}, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handlers.NewHealthHandler(tt.checks, handlers.NewDiscardLogger()).Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			var resp handlers.HealthResponse
			handlers.AssertJSONResponse(t, w, tt.status, &resp)
			assert.Equal(t, tt.want, resp.Status)
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}
