package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	Register(ctx context.Context, email, password, name string) (*services.SessionResponse, error)
	VerifyPassword(ctx context.Context, principalID, password string) error
	VerifySecondFactor(ctx context.Context, principalID, code string) error
	Me(ctx context.Context, principalID string) (*services.PrincipalResponse, error)
}

// SessionServiceInterface defines the credential lifecycle operations used over HTTP
type SessionServiceInterface interface {
	Refresh(ctx context.Context, refreshToken string) (*services.SessionResponse, error)
	Revoke(ctx context.Context, token string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	sessions SessionServiceInterface
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, sessions SessionServiceInterface, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		sessions: sessions,
		logger:   logger,
	}
}

// Login handles POST /auth/login.
// 200 with a session, or 200 with a second_factor_required challenge.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:            req.Email,
		Password:         req.Password,
		SecondFactorCode: req.TwoFactorCode,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if result.State == models.FlowAwaitingSecondFactor {
		writeJSON(w, http.StatusOK, SecondFactorChallengeResponse{
			State:       string(models.KindSecondFactorRequired),
			PrincipalID: result.PrincipalID,
			Message:     "Submit a two_factor_code to complete login",
		})
		return
	}

	writeJSON(w, http.StatusOK, result.Session)
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// RefreshToken handles POST /auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Logout handles POST /auth/logout. The bearer credential and its pair are revoked;
// a refresh_token in the body is revoked too.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		pkghttp.WriteUnauthorized(w, "invalid token")
		return
	}

	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	var req LogoutRequest
	if r.ContentLength != 0 && decodeOptional(r, &req) && req.RefreshToken != "" {
		if err := h.sessions.Revoke(r.Context(), req.RefreshToken); err != nil && !models.IsCredentialRejection(err) {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out"})
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cred := auth.CredentialFromContext(r.Context())
	if cred == nil {
		pkghttp.WriteUnauthorized(w, "invalid token")
		return
	}

	principal, err := h.service.Me(r.Context(), cred.Subject)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, principal)
}

// Quota handles GET /scans/quota: the capabilities and limits carried in the credential
func (h *AuthHandler) Quota(w http.ResponseWriter, r *http.Request) {
	cred := auth.CredentialFromContext(r.Context())
	if cred == nil {
		pkghttp.WriteUnauthorized(w, "invalid token")
		return
	}

	writeJSON(w, http.StatusOK, QuotaResponse{
		Permissions:          cred.ScanPermissions,
		Quotas:               cred.Quotas,
		SecondFactorVerified: cred.SecondFactorVerified,
		ExpiresAt:            cred.ExpiresAt,
	})
}
