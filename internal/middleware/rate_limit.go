package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// RateLimitConfig bounds requests per client IP on the public auth routes
type RateLimitConfig struct {
	RequestsPerMinute int
	TrustedProxies    []string
}

// RateLimitByIP limits requests per client IP. The key honours forwarding headers
// only from trusted proxies, matching the address written to audit records.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	ipConfig := &pkghttp.IPConfig{TrustedProxies: config.TrustedProxies}

	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, ipConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			// httprate sets Retry-After itself; fill it in only if it is missing
			if w.Header().Get("Retry-After") != "" {
				pkghttp.WriteTooManyRequests(w, "too many requests")
				return
			}
			pkghttp.WriteRateLimited(w, time.Minute, "too many requests")
		}),
	)
}
