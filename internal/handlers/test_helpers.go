package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithCredentialContext attaches a validated access credential for principalID
func WithCredentialContext(req *http.Request, principalID string) *http.Request {
	cred := &models.Credential{
		ID:              "jti-" + principalID,
		Subject:         principalID,
		Email:           principalID + "@example.com",
		Kind:            models.KindAccess,
		ScanPermissions: []string{models.PermissionBasicScan},
		Quotas:          models.DefaultQuotas(),
	}
	return req.WithContext(auth.WithCredential(req.Context(), cred))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// NewDiscardLogger returns a logger that drops everything
func NewDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc              func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	RegisterFunc           func(ctx context.Context, email, password, name string) (*services.SessionResponse, error)
	VerifyPasswordFunc     func(ctx context.Context, principalID, password string) error
	VerifySecondFactorFunc func(ctx context.Context, principalID, code string) error
	MeFunc                 func(ctx context.Context, principalID string) (*services.PrincipalResponse, error)
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, req)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthService) Register(ctx context.Context, email, password, name string) (*services.SessionResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password, name)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthService) VerifyPassword(ctx context.Context, principalID, password string) error {
	if m.VerifyPasswordFunc != nil {
		return m.VerifyPasswordFunc(ctx, principalID, password)
	}
	return nil
}

func (m *MockAuthService) VerifySecondFactor(ctx context.Context, principalID, code string) error {
	if m.VerifySecondFactorFunc != nil {
		return m.VerifySecondFactorFunc(ctx, principalID, code)
	}
	return models.ErrInvalidSecondFactor
}

func (m *MockAuthService) Me(ctx context.Context, principalID string) (*services.PrincipalResponse, error) {
	if m.MeFunc != nil {
		return m.MeFunc(ctx, principalID)
	}
	return nil, models.ErrNotFound
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	RefreshFunc func(ctx context.Context, refreshToken string) (*services.SessionResponse, error)
	RevokeFunc  func(ctx context.Context, token string) error
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*services.SessionResponse, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, models.ErrRevoked
}

func (m *MockSessionService) Revoke(ctx context.Context, token string) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, token)
	}
	return nil
}

// MockSecondFactorService implements SecondFactorServiceInterface for testing
type MockSecondFactorService struct {
	GenerateSecretFunc func(ctx context.Context, principalID string) (*services.SecondFactorSetup, error)
	ConfirmFunc        func(ctx context.Context, principalID, code string) (models.RecoveryCodeSet, error)
	RegenerateFunc     func(ctx context.Context, principalID string) (models.RecoveryCodeSet, error)
	DisableFunc        func(ctx context.Context, principalID string) error
	StatusFunc         func(ctx context.Context, principalID string) (*models.SecondFactorStatus, error)
}

func (m *MockSecondFactorService) GenerateSecret(ctx context.Context, principalID string) (*services.SecondFactorSetup, error) {
	if m.GenerateSecretFunc != nil {
		return m.GenerateSecretFunc(ctx, principalID)
	}
	return nil, models.ErrInternalServer
}

func (m *MockSecondFactorService) Confirm(ctx context.Context, principalID, code string) (models.RecoveryCodeSet, error) {
	if m.ConfirmFunc != nil {
		return m.ConfirmFunc(ctx, principalID, code)
	}
	return models.RecoveryCodeSet{}, models.ErrInvalidCode
}

func (m *MockSecondFactorService) Regenerate(ctx context.Context, principalID string) (models.RecoveryCodeSet, error) {
	if m.RegenerateFunc != nil {
		return m.RegenerateFunc(ctx, principalID)
	}
	return models.RecoveryCodeSet{}, models.ErrInternalServer
}

func (m *MockSecondFactorService) Disable(ctx context.Context, principalID string) error {
	if m.DisableFunc != nil {
		return m.DisableFunc(ctx, principalID)
	}
	return nil
}

func (m *MockSecondFactorService) Status(ctx context.Context, principalID string) (*models.SecondFactorStatus, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, principalID)
	}
	return &models.SecondFactorStatus{}, nil
}
