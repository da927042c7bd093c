package logger

import (
	"net/url"
	"strings"
)

// sensitiveParams never appear in logs, not even as query keys
var sensitiveParams = []string{
	"password",
	"token",
	"secret",
	"seed",
	"code",
	"email",
	"auth",
}

// SanitizedEmail masks an address for logs: "alice@mail.example.com" becomes "a****@****.*******.com"
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}
	return local + "@" + strings.Join(labels, ".")
}

// SanitizeQueryString reports whether rawQuery names a sensitive parameter
// and must be redacted as a whole.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		// unparseable queries are treated as hostile
		return true
	}
	for key := range values {
		key = strings.ToLower(key)
		for _, param := range sensitiveParams {
			if strings.Contains(key, param) {
				return true
			}
		}
	}
	return false
}
