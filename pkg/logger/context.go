package logger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type correlationKey struct{}

// WithCorrelationID returns a context carrying id for audit and request logs
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or ""
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// EmailHash returns a stable, non-reversible identifier for an email address
func EmailHash(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:8])
}
