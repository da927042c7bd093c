package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
)

// GenerateRecoveryCodes returns count random 8-character base32 codes
func GenerateRecoveryCodes(count int) ([]string, error) {
	codes := make([]string, count)
	buf := make([]byte, 5) // 40 bits -> 8 base32 characters
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate recovery code: %w", err)
		}
		codes[i] = base32.StdEncoding.EncodeToString(buf)
	}
	return codes, nil
}

// NormalizeRecoveryCode uppercases a user supplied code and drops separators
func NormalizeRecoveryCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// IsRecoveryCodeShape reports whether code has the length of a recovery code
func IsRecoveryCodeShape(code string) bool {
	return len(NormalizeRecoveryCode(code)) == models.RecoveryCodeLength
}

// MatchRecoveryCode compares candidate against every code in constant time.
// It returns the index of the match, or -1.
func MatchRecoveryCode(codes []string, candidate string) int {
	candidate = NormalizeRecoveryCode(candidate)
	match := -1
	for i, code := range codes {
		if subtle.ConstantTimeCompare([]byte(code), []byte(candidate)) == 1 && match == -1 {
			match = i
		}
	}
	return match
}
