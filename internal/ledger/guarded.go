package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// GuardConfig bounds every ledger call
type GuardConfig struct {
	Timeout    time.Duration // per attempt
	RetryDelay time.Duration
	Retries    int // extra attempts after the first
}

// DefaultGuardConfig returns one retry with a 2s per-attempt timeout
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{Timeout: 2 * time.Second, RetryDelay: 50 * time.Millisecond, Retries: 1}
}

// Guarded wraps a Ledger with timeouts and bounded retries. Every error it
// returns is a BackendUnavailable AuthError, so callers fail closed.
type Guarded struct {
	inner   Ledger
	config  GuardConfig
	logger  *slog.Logger
	onError func(op string)
}

// NewGuarded creates a Guarded ledger. onError may be nil.
func NewGuarded(inner Ledger, config GuardConfig, logger *slog.Logger, onError func(op string)) *Guarded {
	return &Guarded{inner: inner, config: config, logger: logger, onError: onError}
}

func (g *Guarded) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= g.config.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return g.fail(op, ctx.Err())
			case <-time.After(g.config.RetryDelay):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}

		g.logger.Warn("ledger call failed",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))

		if ctx.Err() != nil {
			break
		}
	}
	return g.fail(op, err)
}

func (g *Guarded) fail(op string, err error) error {
	if g.onError != nil {
		g.onError(op)
	}
	return models.NewAuthError(models.KindBackendUnavailable, err)
}

func (g *Guarded) Record(ctx context.Context, entry Entry) error {
	return g.do(ctx, "record", func(ctx context.Context) error {
		return g.inner.Record(ctx, entry)
	})
}

func (g *Guarded) Blacklist(ctx context.Context, id string) error {
	return g.do(ctx, "blacklist", func(ctx context.Context) error {
		return g.inner.Blacklist(ctx, id)
	})
}

func (g *Guarded) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	var blacklisted bool
	err := g.do(ctx, "is_blacklisted", func(ctx context.Context) error {
		var err error
		blacklisted, err = g.inner.IsBlacklisted(ctx, id)
		return err
	})
	return blacklisted, err
}

// Consume is retried only on error; a definitive false is never retried
func (g *Guarded) Consume(ctx context.Context, id string) (bool, error) {
	var consumed bool
	err := g.do(ctx, "consume", func(ctx context.Context) error {
		var err error
		consumed, err = g.inner.Consume(ctx, id)
		return err
	})
	return consumed, err
}

func (g *Guarded) BlacklistFamily(ctx context.Context, family string) (int64, error) {
	var count int64
	err := g.do(ctx, "blacklist_family", func(ctx context.Context) error {
		var err error
		count, err = g.inner.BlacklistFamily(ctx, family)
		return err
	})
	return count, err
}

func (g *Guarded) Purge(ctx context.Context) (int64, error) {
	var count int64
	err := g.do(ctx, "purge", func(ctx context.Context) error {
		var err error
		count, err = g.inner.Purge(ctx)
		return err
	})
	return count, err
}
