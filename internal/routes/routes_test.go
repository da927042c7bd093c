package routes_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/secrets"
	"github.com/BradenHooton/warden/internal/services"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const password = "SecureP@ss123"

func newRouter(t *testing.T, requestsPerMinute int) http.Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLogger := pkglogger.NewAuditLogger(logger)
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	store, err := secrets.NewStore([]byte("0123456789abcdef0123456789abcdef"), []byte("abcdefghijklmnopqrstuvwxyz012345"))
	require.NoError(t, err)

	principals := repositories.NewMemoryPrincipalRepository()
	sessions := services.NewSessionService(
		auth.NewCredentialCodec(store, clk, "warden-test"),
		ledger.NewMemoryLedger(clk, 7*24*time.Hour), principals, clk,
		services.SessionConfig{
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     7 * 24 * time.Hour,
			ReuseDetection: true,
			Quotas:         models.DefaultQuotas(),
		},
		logger, auditLogger, nil,
	)
	secondFactor := services.NewSecondFactorService(principals, store, auth.NewTOTPManager("warden-test"),
		nil, clk, services.NewLogNotifier(logger), logger, auditLogger, nil,
		services.SecondFactorConfig{RecoveryCASAttempts: 10})
	authService, err := services.NewAuthService(principals, sessions, secondFactor,
		ratelimit.NewKeyedLimiter(ratelimit.Config{MaxFailures: 8, Window: 15 * time.Minute}, clk),
		logger, auditLogger, nil, services.AuthConfig{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	router := chi.NewRouter()
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:         handlers.NewAuthHandler(authService, sessions, logger),
		SecondFactorHandler: handlers.NewSecondFactorHandler(secondFactor, authService, logger),
		HealthHandler:       handlers.NewHealthHandler(nil, logger),
		Validator:           sessions,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
		RateLimit: middleware.RateLimitConfig{RequestsPerMinute: requestsPerMinute},
		Logger:    logger,
	})
	return router
}

func do(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func registerSession(t *testing.T, h http.Handler) services.SessionResponse {
	t.Helper()

	rec := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "ada@example.com", "password": password, "name": "Ada",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var session services.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

// ============================================================================
// Route table
// ============================================================================

func TestRoutes_PublicEndpoints(t *testing.T) {
	h := newRouter(t, 100)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "", nil).Code)
}

func TestRoutes_ProtectedEndpointsRequireCredential(t *testing.T) {
	h := newRouter(t, 100)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/me"},
		{http.MethodGet, "/2fa/status"},
		{http.MethodPost, "/2fa/generate"},
		{http.MethodPost, "/2fa/confirm"},
		{http.MethodPost, "/2fa/disable"},
		{http.MethodPost, "/2fa/recovery-codes"},
		{http.MethodGet, "/scans/quota"},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			rec := do(t, h, p.method, p.path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRoutes_SessionFlow(t *testing.T) {
	h := newRouter(t, 100)
	session := registerSession(t, h)

	me := do(t, h, http.MethodGet, "/auth/me", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "ada@example.com")

	quota := do(t, h, http.MethodGet, "/scans/quota", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, quota.Code)
	assert.Contains(t, quota.Body.String(), models.PermissionBasicScan)

	status := do(t, h, http.MethodGet, "/2fa/status", session.AccessToken, nil)
	assert.Equal(t, http.StatusOK, status.Code)

	// A refresh credential is not accepted as a bearer
	wrongKind := do(t, h, http.MethodGet, "/auth/me", session.RefreshToken, nil)
	assert.Equal(t, http.StatusUnauthorized, wrongKind.Code)

	logout := do(t, h, http.MethodPost, "/auth/logout", session.AccessToken, nil)
	require.Equal(t, http.StatusOK, logout.Code)

	revoked := do(t, h, http.MethodGet, "/auth/me", session.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, revoked.Code)
}

func TestRoutes_PublicGroupIsRateLimited(t *testing.T) {
	h := newRouter(t, 2)
	body := map[string]string{"email": "ada@example.com", "password": "WrongP@ss123"}

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	limited := do(t, h, http.MethodPost, "/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	// Health is outside the limited group
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "", nil).Code)
}
