package ledger

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/config"
)

func openConfig(backend string) *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			AccessTokenExpiry:  15 * time.Minute,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
		},
		Ledger: config.LedgerConfig{
			Backend:    backend,
			SQLitePath: ":memory:",
		},
	}
}

func TestOpen_Memory(t *testing.T) {
	opened, err := Open(context.Background(), openConfig(config.LedgerMemory), nil, clock.System{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer opened.Close()

	assert.IsType(t, &MemoryLedger{}, opened.Ledger)
	assert.Nil(t, opened.Health)
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	opened, err := Open(ctx, openConfig(config.LedgerSQLite), nil, clock.System{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer opened.Close()

	require.NotNil(t, opened.Health)
	assert.NoError(t, opened.Health.HealthCheck(ctx))

	require.NoError(t, opened.Ledger.Blacklist(ctx, "jti-1"))
	revoked, err := opened.Ledger.IsBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestOpen_PostgresRequiresDatabase(t *testing.T) {
	_, err := Open(context.Background(), openConfig(config.LedgerPostgres), nil, clock.System{}, slog.Default())
	assert.Error(t, err)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), openConfig("etcd"), nil, clock.System{}, slog.Default())
	assert.ErrorContains(t, err, "etcd")
}
