package ledger

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockLedger implements Ledger for testing
type MockLedger struct {
	RecordFunc          func(ctx context.Context, entry Entry) error
	BlacklistFunc       func(ctx context.Context, id string) error
	IsBlacklistedFunc   func(ctx context.Context, id string) (bool, error)
	ConsumeFunc         func(ctx context.Context, id string) (bool, error)
	BlacklistFamilyFunc func(ctx context.Context, family string) (int64, error)
	PurgeFunc           func(ctx context.Context) (int64, error)
}

func (m *MockLedger) Record(ctx context.Context, entry Entry) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	return nil
}

func (m *MockLedger) Blacklist(ctx context.Context, id string) error {
	if m.BlacklistFunc != nil {
		return m.BlacklistFunc(ctx, id)
	}
	return nil
}

func (m *MockLedger) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	if m.IsBlacklistedFunc != nil {
		return m.IsBlacklistedFunc(ctx, id)
	}
	return false, nil
}

func (m *MockLedger) Consume(ctx context.Context, id string) (bool, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, id)
	}
	return true, nil
}

func (m *MockLedger) BlacklistFamily(ctx context.Context, family string) (int64, error) {
	if m.BlacklistFamilyFunc != nil {
		return m.BlacklistFamilyFunc(ctx, family)
	}
	return 0, nil
}

func (m *MockLedger) Purge(ctx context.Context) (int64, error) {
	if m.PurgeFunc != nil {
		return m.PurgeFunc(ctx)
	}
	return 0, nil
}

func fastGuard() GuardConfig {
	return GuardConfig{Timeout: 50 * time.Millisecond, RetryDelay: time.Millisecond, Retries: 1}
}

func TestGuarded_RetriesOnceThenSucceeds(t *testing.T) {
	calls := 0
	inner := &MockLedger{
		IsBlacklistedFunc: func(ctx context.Context, id string) (bool, error) {
			calls++
			if calls == 1 {
				return false, errors.New("connection reset")
			}
			return true, nil
		},
	}
	g := NewGuarded(inner, fastGuard(), slog.Default(), nil)

	blacklisted, err := g.IsBlacklisted(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, blacklisted)
	assert.Equal(t, 2, calls)
}

func TestGuarded_PersistentFailureIsBackendUnavailable(t *testing.T) {
	calls := 0
	var failedOps []string
	inner := &MockLedger{
		ConsumeFunc: func(ctx context.Context, id string) (bool, error) {
			calls++
			return false, errors.New("connection refused")
		},
	}
	g := NewGuarded(inner, fastGuard(), slog.Default(), func(op string) { failedOps = append(failedOps, op) })

	consumed, err := g.Consume(context.Background(), "r1_refresh")
	assert.False(t, consumed)
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []string{"consume"}, failedOps)
}

func TestGuarded_TimeoutFailsClosed(t *testing.T) {
	inner := &MockLedger{
		IsBlacklistedFunc: func(ctx context.Context, id string) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		},
	}
	g := NewGuarded(inner, fastGuard(), slog.Default(), nil)

	start := time.Now()
	_, err := g.IsBlacklisted(context.Background(), "a1")

	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuarded_DefiniteFalseIsNotRetried(t *testing.T) {
	calls := 0
	inner := &MockLedger{
		ConsumeFunc: func(ctx context.Context, id string) (bool, error) {
			calls++
			return false, nil
		},
	}
	g := NewGuarded(inner, fastGuard(), slog.Default(), nil)

	consumed, err := g.Consume(context.Background(), "r1_refresh")
	require.NoError(t, err)
	assert.False(t, consumed)
	assert.Equal(t, 1, calls)
}

func TestGuarded_CancelledParentStopsRetrying(t *testing.T) {
	calls := 0
	ctx, cancel := context.WithCancel(context.Background())
	inner := &MockLedger{
		BlacklistFunc: func(ctx context.Context, id string) error {
			calls++
			cancel()
			return ctx.Err()
		},
	}
	g := NewGuarded(inner, fastGuard(), slog.Default(), nil)

	err := g.Blacklist(ctx, "a1")
	assert.ErrorIs(t, err, models.ErrBackendUnavailable)
	assert.Equal(t, 1, calls)
}
