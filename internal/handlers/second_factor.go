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

// SecondFactorServiceInterface defines the second factor management operations
type SecondFactorServiceInterface interface {
	GenerateSecret(ctx context.Context, principalID string) (*services.SecondFactorSetup, error)
	Confirm(ctx context.Context, principalID, code string) (models.RecoveryCodeSet, error)
	Regenerate(ctx context.Context, principalID string) (models.RecoveryCodeSet, error)
	Disable(ctx context.Context, principalID string) error
	Status(ctx context.Context, principalID string) (*models.SecondFactorStatus, error)
}

// SecondFactorHandler handles /2fa requests. Every route runs behind Authenticate.
type SecondFactorHandler struct {
	service  SecondFactorServiceInterface
	accounts AuthServiceInterface
	logger   *slog.Logger
}

// NewSecondFactorHandler creates a new SecondFactorHandler
func NewSecondFactorHandler(service SecondFactorServiceInterface, accounts AuthServiceInterface, logger *slog.Logger) *SecondFactorHandler {
	return &SecondFactorHandler{
		service:  service,
		accounts: accounts,
		logger:   logger,
	}
}

func (h *SecondFactorHandler) principal(w http.ResponseWriter, r *http.Request) (string, bool) {
	cred := auth.CredentialFromContext(r.Context())
	if cred == nil {
		pkghttp.WriteUnauthorized(w, "invalid token")
		return "", false
	}
	return cred.Subject, true
}

// Status handles GET /2fa/status
func (h *SecondFactorHandler) Status(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	status, err := h.service.Status(r.Context(), principalID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Generate handles POST /2fa/generate. Requires the current password.
func (h *SecondFactorHandler) Generate(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.accounts.VerifyPassword(r.Context(), principalID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	setup, err := h.service.GenerateSecret(r.Context(), principalID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// Confirm handles POST /2fa/confirm. The recovery codes are returned only here.
func (h *SecondFactorHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req CodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	codes, err := h.service.Confirm(r.Context(), principalID, req.Code)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RecoveryCodesResponse{
		RecoveryCodes: codes.Codes,
		Message:       "Two-factor authentication enabled. Store these recovery codes; they will not be shown again.",
	})
}

// Disable handles POST /2fa/disable. Requires the password, and a current code
// or recovery code once the second factor is enabled.
func (h *SecondFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req DisableRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.accounts.VerifyPassword(r.Context(), principalID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status, err := h.service.Status(r.Context(), principalID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	// an abandoned setup can be cleared with the password alone
	if status.Enabled {
		if err := h.accounts.VerifySecondFactor(r.Context(), principalID, req.Code); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
	}

	if err := h.service.Disable(r.Context(), principalID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Two-factor authentication disabled"})
}

// RegenerateRecoveryCodes handles POST /2fa/recovery-codes. Requires the current password.
func (h *SecondFactorHandler) RegenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req PasswordRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if err := h.accounts.VerifyPassword(r.Context(), principalID, req.Password); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	codes, err := h.service.Regenerate(r.Context(), principalID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, RecoveryCodesResponse{
		RecoveryCodes: codes.Codes,
		Message:       "Previous recovery codes are no longer valid.",
	})
}
