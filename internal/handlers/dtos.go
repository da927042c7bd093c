package handlers

import (
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email         string `json:"email" validate:"required,email,max=254"`
	Password      string `json:"password" validate:"required,max=128"`
	TwoFactorCode string `json:"two_factor_code" validate:"omitempty,max=20"` // TOTP or recovery code
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name" validate:"required,min=1,max=100"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest optionally names the refresh credential to revoke alongside the bearer
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// PasswordRequest re-authenticates a principal before a sensitive change
type PasswordRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

// CodeRequest carries a TOTP code
type CodeRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableRequest carries the password and, for an enabled second factor, a code
type DisableRequest struct {
	Password string `json:"password" validate:"required,max=128"`
	Code     string `json:"code" validate:"omitempty,max=20"`
}

// Response DTOs

// SecondFactorChallengeResponse is returned by login when a code is still needed
type SecondFactorChallengeResponse struct {
	State       string `json:"state"`
	PrincipalID string `json:"principal_id"`
	Message     string `json:"message"`
}

// RecoveryCodesResponse carries plaintext recovery codes. They are shown exactly once.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
	Message       string   `json:"message"`
}

// MessageResponse is a body-only acknowledgement
type MessageResponse struct {
	Message string `json:"message"`
}

// QuotaResponse echoes the capability tags and quotas of the presented credential
type QuotaResponse struct {
	Permissions          []string      `json:"scan_permissions"`
	Quotas               models.Quotas `json:"quotas"`
	SecondFactorVerified bool          `json:"two_factor_verified"`
	ExpiresAt            time.Time     `json:"expires_at"`
}
