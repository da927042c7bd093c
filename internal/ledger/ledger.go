// Package ledger records issued credential ids and which of them are revoked.
package ledger

import (
	"context"
	"time"
)

// Entry is the liveness record written when a credential is issued
type Entry struct {
	ID          string
	PrincipalID string
	Family      string
	ExpiresAt   time.Time
}

// Ledger is the revocation store consulted by id on every validation.
// Implementations must make Consume atomic: among concurrent callers for the
// same id, at most one observes true.
type Ledger interface {
	// Record stores a live entry; recording an existing id is a no-op
	Record(ctx context.Context, entry Entry) error
	// Blacklist marks id revoked, creating the entry if needed
	Blacklist(ctx context.Context, id string) error
	IsBlacklisted(ctx context.Context, id string) (bool, error)
	// Consume flips id from not-blacklisted to blacklisted and reports whether this call did it
	Consume(ctx context.Context, id string) (bool, error)
	// BlacklistFamily revokes every recorded id of a family, including ones recorded later
	BlacklistFamily(ctx context.Context, family string) (int64, error)
	// Purge deletes entries whose retention has passed
	Purge(ctx context.Context) (int64, error)
}

const (
	stateLive        = "live"
	stateBlacklisted = "blacklisted"
)

func retainUntil(now time.Time, retention time.Duration, expiresAt time.Time) time.Time {
	until := now.Add(retention)
	if expiresAt.After(until) {
		return expiresAt
	}
	return until
}
