package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// writeJSON encodes body with the given status
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeAndValidate reads a JSON body into req and runs the validator
func decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

const maxBodyBytes = 1 << 16

// decodeOptional reads an optional JSON body; a malformed body is ignored
func decodeOptional(r *http.Request, req any) bool {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(req) == nil
}

// writeServiceError maps a service error onto the HTTP error taxonomy.
// Credential rejections share one body so the reason never leaks.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var pwErr *pkgauth.PasswordValidationError

	switch kind := models.KindOf(err); {
	case models.IsCredentialRejection(err):
		pkghttp.WriteUnauthorized(w, "invalid token")
	case kind == models.KindInvalidCredentials:
		pkghttp.WriteError(w, http.StatusUnauthorized, string(kind), "Authentication failed")
	case kind == models.KindInvalidSecondFactor:
		pkghttp.WriteError(w, http.StatusUnauthorized, string(kind), "Authentication failed")
	case kind == models.KindInvalidCode:
		pkghttp.WriteError(w, http.StatusBadRequest, string(kind), "Invalid code")
	case kind == models.KindRateLimited:
		pkghttp.WriteRateLimited(w, models.RetryAfterOf(err), "Too many attempts. Please try again later.")
	case kind == models.KindBackendUnavailable:
		logger.ErrorContext(r.Context(), "backend unavailable", slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Service temporarily unavailable")
	case errors.As(err, &pwErr):
		pkghttp.WriteBadRequest(w, "invalid password")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Conflict with current state")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found")
	default:
		logger.ErrorContext(r.Context(), "request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
