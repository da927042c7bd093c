package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/database"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteLedger stores the ledger in a local SQLite file for single-node deployments.
// Times are stored as unix milliseconds.
type SQLiteLedger struct {
	db        *sql.DB
	clock     clock.Clock
	retention time.Duration
}

// OpenSQLite opens (and migrates) the SQLite database at path
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if path == ":memory:" {
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer keeps Consume serialized and :memory: on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if err := database.Migrate(ctx, db, "sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewSQLiteLedger creates a ledger over an already migrated database
func NewSQLiteLedger(db *sql.DB, clk clock.Clock, retention time.Duration) *SQLiteLedger {
	return &SQLiteLedger{db: db, clock: clk, retention: retention}
}

func (l *SQLiteLedger) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO revocation_ledger (jti, principal_id, family, state, expires_at)
		SELECT ?1, ?2, ?3,
			CASE WHEN f.family IS NULL THEN 'live' ELSE 'blacklisted' END,
			CASE WHEN f.family IS NULL THEN ?4 ELSE max(?4, ?5) END
		FROM (SELECT 1) AS one
		LEFT JOIN revoked_families f ON f.family = ?3 AND ?3 <> ''
		WHERE true
		ON CONFLICT (jti) DO NOTHING
	`

	now := l.clock.Now()
	_, err := l.db.ExecContext(ctx, query,
		entry.ID, entry.PrincipalID, entry.Family,
		entry.ExpiresAt.UnixMilli(), now.Add(l.retention).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Blacklist(ctx context.Context, id string) error {
	query := `
		INSERT INTO revocation_ledger (jti, state, expires_at)
		VALUES (?1, 'blacklisted', ?2)
		ON CONFLICT (jti) DO UPDATE
		SET state = 'blacklisted', expires_at = max(revocation_ledger.expires_at, excluded.expires_at)
	`

	if _, err := l.db.ExecContext(ctx, query, id, l.clock.Now().Add(l.retention).UnixMilli()); err != nil {
		return fmt.Errorf("failed to blacklist: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revocation_ledger WHERE jti = ?1 AND state = 'blacklisted')`

	var exists bool
	if err := l.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

func (l *SQLiteLedger) Consume(ctx context.Context, id string) (bool, error) {
	query := `
		INSERT INTO revocation_ledger (jti, state, expires_at)
		VALUES (?1, 'blacklisted', ?2)
		ON CONFLICT (jti) DO UPDATE
		SET state = 'blacklisted', expires_at = max(revocation_ledger.expires_at, excluded.expires_at)
		WHERE revocation_ledger.state <> 'blacklisted'
		RETURNING jti
	`

	var jti string
	err := l.db.QueryRowContext(ctx, query, id, l.clock.Now().Add(l.retention).UnixMilli()).Scan(&jti)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume: %w", err)
	}
	return true, nil
}

func (l *SQLiteLedger) BlacklistFamily(ctx context.Context, family string) (count int64, err error) {
	until := l.clock.Now().Add(l.retention).UnixMilli()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO revoked_families (family, expires_at) VALUES (?1, ?2)
		ON CONFLICT (family) DO UPDATE SET expires_at = max(revoked_families.expires_at, excluded.expires_at)
	`, family, until)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke family: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE revocation_ledger
		SET state = 'blacklisted', expires_at = max(expires_at, ?2)
		WHERE family = ?1 AND state <> 'blacklisted'
	`, family, until)
	if err != nil {
		return 0, fmt.Errorf("failed to blacklist family members: %w", err)
	}

	count, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return count, nil
}

func (l *SQLiteLedger) Purge(ctx context.Context) (int64, error) {
	now := l.clock.Now().UnixMilli()

	result, err := l.db.ExecContext(ctx, `DELETE FROM revocation_ledger WHERE expires_at <= ?1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge ledger: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM revoked_families WHERE expires_at <= ?1`, now); err != nil {
		return 0, fmt.Errorf("failed to purge revoked families: %w", err)
	}

	return result.RowsAffected()
}
