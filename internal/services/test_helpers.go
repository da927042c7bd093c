package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/ledger"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/secrets"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const (
	testIssuer   = "warden-test"
	testPassword = "SecureP@ss123"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// MockIdentityStore implements IdentityStore for testing
type MockIdentityStore struct {
	FindByIDFunc                func(ctx context.Context, id string) (*models.Principal, error)
	FindByEmailFunc             func(ctx context.Context, email string) (*models.Principal, error)
	CreateFunc                  func(ctx context.Context, p *models.Principal) (*models.Principal, error)
	UpdateSecondFactorStateFunc func(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error)
	CheckPasswordFunc           func(p *models.Principal, plaintext string) bool
}

func (m *MockIdentityStore) FindByID(ctx context.Context, id string) (*models.Principal, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityStore) FindByEmail(ctx context.Context, email string) (*models.Principal, error) {
	if m.FindByEmailFunc != nil {
		return m.FindByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockIdentityStore) Create(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, p)
	}
	return nil, models.ErrInternalServer
}

func (m *MockIdentityStore) UpdateSecondFactorState(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error) {
	if m.UpdateSecondFactorStateFunc != nil {
		return m.UpdateSecondFactorStateFunc(ctx, id, expectedVersion, state)
	}
	return nil, models.ErrInternalServer
}

func (m *MockIdentityStore) CheckPassword(p *models.Principal, plaintext string) bool {
	if m.CheckPasswordFunc != nil {
		return m.CheckPasswordFunc(p, plaintext)
	}
	return false
}

// MockLimiter implements Limiter for testing
type MockLimiter struct {
	AllowFunc func(ctx context.Context, key string) error

	mu        sync.Mutex
	Failures  []string
	Successes []string
}

func (m *MockLimiter) Allow(ctx context.Context, key string) error {
	if m.AllowFunc != nil {
		return m.AllowFunc(ctx, key)
	}
	return nil
}

func (m *MockLimiter) Failure(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, key)
}

func (m *MockLimiter) Success(ctx context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Successes = append(m.Successes, key)
}

// MockNotifier records security notifications
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, email, event string, at time.Time) error

	mu     sync.Mutex
	Events []string
}

func (m *MockNotifier) NotifySecurityEvent(ctx context.Context, email, event string, at time.Time) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, email, event, at)
	}
	return nil
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv wires the real services over in-memory storage and a manual clock
type testEnv struct {
	clock        *clock.Manual
	store        *repositories.MemoryPrincipalRepository
	ledger       *ledger.MemoryLedger
	secrets      *secrets.Store
	codec        *auth.CredentialCodec
	totp         *auth.TOTPManager
	notifier     *MockNotifier
	limiter      *MockLimiter
	sessions     *SessionService
	secondFactor *SecondFactorService
	auth         *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := newTestLogger()
	auditLogger := pkglogger.NewAuditLogger(logger)
	clk := clock.NewManual(testEpoch)

	store, err := secrets.NewStore([]byte("0123456789abcdef0123456789abcdef"), []byte("abcdefghijklmnopqrstuvwxyz012345"))
	require.NoError(t, err)

	sessionConfig := SessionConfig{
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		ReuseDetection: true,
		Quotas:         models.DefaultQuotas(),
	}

	env := &testEnv{
		clock:    clk,
		store:    repositories.NewMemoryPrincipalRepository(),
		ledger:   ledger.NewMemoryLedger(clk, sessionConfig.RefreshTTL),
		secrets:  store,
		codec:    auth.NewCredentialCodec(store, clk, testIssuer),
		totp:     auth.NewTOTPManager(testIssuer),
		notifier: &MockNotifier{},
		limiter:  &MockLimiter{},
	}

	env.sessions = NewSessionService(env.codec, env.ledger, env.store, clk, sessionConfig, logger, auditLogger, nil)
	env.secondFactor = NewSecondFactorService(env.store, store, env.totp, nil, clk, env.notifier, logger, auditLogger, nil,
		SecondFactorConfig{RecoveryCASAttempts: 10})

	env.auth, err = NewAuthService(env.store, env.sessions, env.secondFactor, env.limiter, logger, auditLogger, nil,
		AuthConfig{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)

	return env
}

// createPrincipal stores a principal whose password is testPassword
func (e *testEnv) createPrincipal(t *testing.T, email string) *models.Principal {
	t.Helper()

	hash, err := pkgauth.HashPasswordWithCost(testPassword, bcrypt.MinCost)
	require.NoError(t, err)

	p, err := e.store.Create(context.Background(), &models.Principal{
		Email:        email,
		Name:         "Test Principal",
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return p
}

// enableSecondFactor runs generate and confirm and returns the seed and recovery codes
func (e *testEnv) enableSecondFactor(t *testing.T, principalID string) (string, models.RecoveryCodeSet) {
	t.Helper()
	ctx := context.Background()

	setup, err := e.secondFactor.GenerateSecret(ctx, principalID)
	require.NoError(t, err)

	code, err := e.totp.CodeAt(setup.Seed, e.clock.Now())
	require.NoError(t, err)

	codes, err := e.secondFactor.Confirm(ctx, principalID, code)
	require.NoError(t, err)
	return setup.Seed, codes
}

func (e *testEnv) currentCode(t *testing.T, seed string) string {
	t.Helper()
	code, err := e.totp.CodeAt(seed, e.clock.Now())
	require.NoError(t, err)
	return code
}
