package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/ledger"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/secrets"
	"github.com/BradenHooton/warden/internal/services"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const testRefreshTTL = 7 * 24 * time.Hour

// SentNotification is a captured security notification
type SentNotification struct {
	Email string
	Event string
}

// MockNotifier captures security notifications for test assertions
type MockNotifier struct {
	Sent []SentNotification
	mu   sync.Mutex
}

func (m *MockNotifier) NotifySecurityEvent(ctx context.Context, email, event string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentNotification{Email: email, Event: event})
	return nil
}

// Events returns the captured event names in order
func (m *MockNotifier) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]string, 0, len(m.Sent))
	for _, n := range m.Sent {
		events = append(events, n.Event)
	}
	return events
}

// TestServer wraps httptest.Server with the real services over PostgreSQL
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Ledger   ledger.Ledger
	Notifier *MockNotifier
	logger   *slog.Logger
}

// NewTestServer wires the full HTTP stack. A nil revocations uses the Postgres ledger.
func NewTestServer(db *database.DB, revocations ledger.Ledger) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	auditLogger := pkglogger.NewAuditLogger(logger)
	clk := clock.System{}

	if revocations == nil {
		revocations = ledger.NewPostgresLedger(db, clk, testRefreshTTL)
	}
	guarded := ledger.NewGuarded(revocations, ledger.DefaultGuardConfig(), logger, nil)

	store, err := secrets.NewStore(
		[]byte("integration-signing-key-32-bytes!!"),
		[]byte("integration-seal-key-32-bytes!!!"),
	)
	if err != nil {
		panic(err)
	}

	principals := repositories.NewPrincipalRepository(db)
	notifier := &MockNotifier{}

	sessionService := services.NewSessionService(
		auth.NewCredentialCodec(store, clk, "warden-integration"),
		guarded, principals, clk,
		services.SessionConfig{
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     testRefreshTTL,
			ReuseDetection: true,
			Quotas:         models.DefaultQuotas(),
		},
		logger, auditLogger, nil,
	)

	secondFactorService := services.NewSecondFactorService(principals, store,
		auth.NewTOTPManager("WardenTest"), nil, clk, notifier, logger, auditLogger, nil,
		services.SecondFactorConfig{RecoveryCASAttempts: 10})

	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{MaxFailures: 8, Window: 15 * time.Minute}, clk)

	authService, err := services.NewAuthService(principals, sessionService, secondFactorService, limiter,
		logger, auditLogger, nil, services.AuthConfig{BcryptCost: bcrypt.MinCost})
	if err != nil {
		panic(err)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(middlewareCustom.CorrelationID)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, routes.Dependencies{
		AuthHandler:         handlers.NewAuthHandler(authService, sessionService, logger),
		SecondFactorHandler: handlers.NewSecondFactorHandler(secondFactorService, authService, logger),
		HealthHandler:       handlers.NewHealthHandler(map[string]handlers.HealthChecker{"database": db}, logger),
		Validator:           sessionService,
		RateLimit:           middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000},
		Logger:              logger,
	})

	return &TestServer{
		Server:   httptest.NewServer(r),
		DB:       db,
		Ledger:   revocations,
		Notifier: notifier,
		logger:   logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes a request carrying accessToken as a bearer credential
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	return ts.Request(method, path, body, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
}

// ParseJSONResponse parses the response body into target
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// Session is the credential pair returned by login, register and refresh
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	State        string `json:"state"`
	PrincipalID  string `json:"principal_id"`
}

// ErrorBody is the JSON error envelope
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetError extracts the error envelope from a response
func GetError(resp *http.Response) (ErrorBody, error) {
	var body ErrorBody
	err := ParseJSONResponse(resp, &body)
	return body, err
}
