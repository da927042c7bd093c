package integration

import (
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
)

// TestPrincipal generates unique credentials using a timestamp
func TestPrincipal(suffix string) (email, password string) {
	email = fmt.Sprintf("test-%d-%s@example.com", time.Now().UnixNano(), suffix)
	password = "TestPassword123!"
	return
}

// CurrentCode returns the TOTP code for seed at the current time
func CurrentCode(seed string) (string, error) {
	return totp.GenerateCode(seed, time.Now())
}
