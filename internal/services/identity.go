package services

import (
	"context"

	"github.com/BradenHooton/warden/internal/models"
)

// IdentityStore is the principal storage the authentication core depends on
type IdentityStore interface {
	FindByID(ctx context.Context, id string) (*models.Principal, error)
	FindByEmail(ctx context.Context, email string) (*models.Principal, error)
	Create(ctx context.Context, p *models.Principal) (*models.Principal, error)
	// UpdateSecondFactorState writes state only if the stored version equals expectedVersion.
	// It returns models.ErrConflict on a version mismatch.
	UpdateSecondFactorState(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error)
	CheckPassword(p *models.Principal, plaintext string) bool
}

// Limiter throttles repeated failures for a key
type Limiter interface {
	Allow(ctx context.Context, key string) error
	Failure(ctx context.Context, key string)
	Success(ctx context.Context, key string)
}

// Sealer encrypts secrets before they reach the identity store
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}
