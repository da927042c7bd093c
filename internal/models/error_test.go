package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuthError_IsMatchesByKind(t *testing.T) {
	err := NewAuthError(KindExpired, errors.New("token is past exp"))

	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrRevoked)

	wrapped := fmt.Errorf("validate: %w", err)
	assert.ErrorIs(t, wrapped, ErrExpired)
	assert.Equal(t, KindExpired, KindOf(wrapped))
}

func TestAuthError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewAuthError(KindBackendUnavailable, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRetryAfterOf(t *testing.T) {
	err := fmt.Errorf("login: %w", NewRateLimitedError(42*time.Second))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 42*time.Second, RetryAfterOf(err))
	assert.Zero(t, RetryAfterOf(errors.New("plain")))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(ErrNotFound))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestIsCredentialRejection(t *testing.T) {
	rejections := []error{ErrTamperedCredential, ErrNotWellFormed, ErrExpired, ErrNotYetValid, ErrRevoked, ErrWrongCredentialKind}
	for _, err := range rejections {
		assert.True(t, IsCredentialRejection(err), string(KindOf(err)))
	}

	others := []error{ErrInvalidCredentials, ErrRateLimited, ErrBackendUnavailable, ErrNotFound}
	for _, err := range others {
		assert.False(t, IsCredentialRejection(err), err.Error())
	}
}
