package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// ErrorKind is the closed set of authentication outcomes that are not success
type ErrorKind string

const (
	KindInvalidCredentials   ErrorKind = "invalid_credentials"
	KindSecondFactorRequired ErrorKind = "second_factor_required"
	KindInvalidSecondFactor  ErrorKind = "invalid_second_factor"
	KindInvalidCode          ErrorKind = "invalid_code"
	KindTamperedCredential   ErrorKind = "tampered_credential"
	KindNotWellFormed        ErrorKind = "not_well_formed"
	KindExpired              ErrorKind = "expired"
	KindNotYetValid          ErrorKind = "not_yet_valid"
	KindRevoked              ErrorKind = "revoked"
	KindWrongCredentialKind  ErrorKind = "wrong_credential_kind"
	KindRateLimited          ErrorKind = "rate_limited"
	KindBackendUnavailable   ErrorKind = "backend_unavailable"
)

// AuthError is an authentication failure tagged with its kind.
// errors.Is matches on Kind, so callers can compare against the sentinels below.
type AuthError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	cause      error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *AuthError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AuthError of the same kind
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewAuthError creates an AuthError of the given kind wrapping cause
func NewAuthError(kind ErrorKind, cause error) *AuthError {
	return &AuthError{Kind: kind, Message: string(kind), cause: cause}
}

// NewRateLimitedError creates a RateLimited error carrying a retry-after hint
func NewRateLimitedError(retryAfter time.Duration) *AuthError {
	return &AuthError{Kind: KindRateLimited, Message: string(KindRateLimited), RetryAfter: retryAfter}
}

// KindOf returns the kind of err, or "" when err is not an AuthError
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// RetryAfterOf extracts the retry-after hint from a RateLimited error
func RetryAfterOf(err error) time.Duration {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.RetryAfter
	}
	return 0
}

// IsCredentialRejection reports whether err means the presented credential is unusable
func IsCredentialRejection(err error) bool {
	switch KindOf(err) {
	case KindTamperedCredential, KindNotWellFormed, KindExpired,
		KindNotYetValid, KindRevoked, KindWrongCredentialKind:
		return true
	}
	return false
}

var (
	ErrInvalidCredentials   = &AuthError{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrSecondFactorRequired = &AuthError{Kind: KindSecondFactorRequired, Message: "second factor required"}
	ErrInvalidSecondFactor  = &AuthError{Kind: KindInvalidSecondFactor, Message: "invalid second factor"}
	ErrInvalidCode          = &AuthError{Kind: KindInvalidCode, Message: "invalid code"}
	ErrTamperedCredential   = &AuthError{Kind: KindTamperedCredential, Message: "credential signature invalid"}
	ErrNotWellFormed        = &AuthError{Kind: KindNotWellFormed, Message: "credential is not well formed"}
	ErrExpired              = &AuthError{Kind: KindExpired, Message: "credential expired"}
	ErrNotYetValid          = &AuthError{Kind: KindNotYetValid, Message: "credential not yet valid"}
	ErrRevoked              = &AuthError{Kind: KindRevoked, Message: "credential revoked"}
	ErrWrongCredentialKind  = &AuthError{Kind: KindWrongCredentialKind, Message: "wrong credential kind"}
	ErrRateLimited          = &AuthError{Kind: KindRateLimited, Message: "rate limited"}
	ErrBackendUnavailable   = &AuthError{Kind: KindBackendUnavailable, Message: "backend unavailable"}
)
