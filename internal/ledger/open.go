package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
)

// Opened is a configured backend plus what it needs at shutdown
type Opened struct {
	Ledger Ledger
	// Health is nil for backends without a connection of their own
	Health interface {
		HealthCheck(ctx context.Context) error
	}
	Close func()
}

// Open builds the ledger backend named by cfg.Ledger.Backend. db is required for
// the postgres backend and ignored otherwise.
func Open(ctx context.Context, cfg *config.Config, db *database.DB, clk clock.Clock, logger *slog.Logger) (*Opened, error) {
	retention := cfg.Auth.MaxCredentialLifetime()

	switch cfg.Ledger.Backend {
	case config.LedgerMemory:
		return &Opened{Ledger: NewMemoryLedger(clk, retention), Close: func() {}}, nil

	case config.LedgerPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres ledger requires a database connection")
		}
		return &Opened{Ledger: NewPostgresLedger(db, clk, retention), Close: func() {}}, nil

	case config.LedgerRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		l := NewRedisLedger(client, clk, retention, cfg.Redis.KeyPrefix)
		if err := l.HealthCheck(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
		}
		return &Opened{Ledger: l, Health: l, Close: func() { _ = client.Close() }}, nil

	case config.LedgerSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.Ledger.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &Opened{
			Ledger: NewSQLiteLedger(sqlDB, clk, retention),
			Health: sqlPinger{sqlDB},
			Close:  func() { _ = sqlDB.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

type sqlPinger struct {
	db *sql.DB
}

func (p sqlPinger) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
