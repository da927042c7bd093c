package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

type contextKey string

const credentialContextKey contextKey = "credential"

// CredentialValidator checks a presented access credential
type CredentialValidator interface {
	Validate(ctx context.Context, token string) (*models.Credential, error)
}

// Authenticate verifies the Bearer access credential and stores it in the request context.
// Every credential rejection collapses to the same 401 body.
func Authenticate(validator CredentialValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			cred, err := validator.Validate(r.Context(), token)
			if err != nil {
				if models.KindOf(err) == models.KindBackendUnavailable {
					if logger != nil {
						logger.ErrorContext(r.Context(), "credential validation unavailable", "error", err)
					}
					pkghttp.WriteServiceUnavailable(w, "authentication temporarily unavailable")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCredential(r.Context(), cred)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithCredential returns a copy of ctx carrying cred
func WithCredential(ctx context.Context, cred *models.Credential) context.Context {
	return context.WithValue(ctx, credentialContextKey, cred)
}

// CredentialFromContext retrieves the validated credential set by Authenticate
func CredentialFromContext(ctx context.Context) *models.Credential {
	cred, _ := ctx.Value(credentialContextKey).(*models.Credential)
	return cred
}
