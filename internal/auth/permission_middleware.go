package auth

import (
	"net/http"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// RequirePermission rejects requests whose credential lacks the capability tag.
// Must run after Authenticate.
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := CredentialFromContext(r.Context())
			if cred == nil {
				pkghttp.WriteUnauthorized(w, "invalid token")
				return
			}
			if !cred.HasPermission(permission) {
				pkghttp.WriteForbidden(w, "missing permission: "+permission)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
