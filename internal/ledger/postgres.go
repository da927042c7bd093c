package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/clock"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/jackc/pgx/v5"
)

// PostgresLedger stores the ledger in the revocation_ledger table
type PostgresLedger struct {
	db        *database.DB
	clock     clock.Clock
	retention time.Duration
}

// NewPostgresLedger creates a new PostgresLedger
func NewPostgresLedger(db *database.DB, clk clock.Clock, retention time.Duration) *PostgresLedger {
	return &PostgresLedger{db: db, clock: clk, retention: retention}
}

func (l *PostgresLedger) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO revocation_ledger (jti, principal_id, family, state, expires_at)
		SELECT $1, $2, $3,
			CASE WHEN f.family IS NULL THEN 'live' ELSE 'blacklisted' END,
			CASE WHEN f.family IS NULL THEN $4::timestamptz ELSE GREATEST($4::timestamptz, $5::timestamptz) END
		FROM (SELECT 1) AS one
		LEFT JOIN revoked_families f ON f.family = $3 AND $3 <> ''
		ON CONFLICT (jti) DO NOTHING
	`

	now := l.clock.Now()
	_, err := l.db.Pool.Exec(ctx, query, entry.ID, entry.PrincipalID, entry.Family, entry.ExpiresAt, now.Add(l.retention))
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", database.MapPostgresError(err))
	}
	return nil
}

func (l *PostgresLedger) Blacklist(ctx context.Context, id string) error {
	query := `
		INSERT INTO revocation_ledger (jti, state, expires_at)
		VALUES ($1, 'blacklisted', $2)
		ON CONFLICT (jti) DO UPDATE
		SET state = 'blacklisted',
			expires_at = GREATEST(revocation_ledger.expires_at, EXCLUDED.expires_at),
			updated_at = NOW()
	`

	_, err := l.db.Pool.Exec(ctx, query, id, l.clock.Now().Add(l.retention))
	if err != nil {
		return fmt.Errorf("failed to blacklist: %w", database.MapPostgresError(err))
	}
	return nil
}

func (l *PostgresLedger) IsBlacklisted(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revocation_ledger WHERE jti = $1 AND state = 'blacklisted')`

	var exists bool
	if err := l.db.Pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", database.MapPostgresError(err))
	}
	return exists, nil
}

// Consume relies on ON CONFLICT ... WHERE: a concurrent second writer re-evaluates the
// predicate against the committed row and updates nothing.
func (l *PostgresLedger) Consume(ctx context.Context, id string) (bool, error) {
	query := `
		INSERT INTO revocation_ledger (jti, state, expires_at)
		VALUES ($1, 'blacklisted', $2)
		ON CONFLICT (jti) DO UPDATE
		SET state = 'blacklisted',
			expires_at = GREATEST(revocation_ledger.expires_at, EXCLUDED.expires_at),
			updated_at = NOW()
		WHERE revocation_ledger.state <> 'blacklisted'
		RETURNING jti
	`

	var jti string
	err := l.db.Pool.QueryRow(ctx, query, id, l.clock.Now().Add(l.retention)).Scan(&jti)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume: %w", database.MapPostgresError(err))
	}
	return true, nil
}

func (l *PostgresLedger) BlacklistFamily(ctx context.Context, family string) (int64, error) {
	until := l.clock.Now().Add(l.retention)
	var count int64

	err := l.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO revoked_families (family, expires_at) VALUES ($1, $2)
			ON CONFLICT (family) DO UPDATE SET expires_at = GREATEST(revoked_families.expires_at, EXCLUDED.expires_at)
		`, family, until)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE revocation_ledger
			SET state = 'blacklisted', expires_at = GREATEST(expires_at, $2), updated_at = NOW()
			WHERE family = $1 AND state <> 'blacklisted'
		`, family, until)
		if err != nil {
			return err
		}
		count = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to blacklist family: %w", database.MapPostgresError(err))
	}
	return count, nil
}

func (l *PostgresLedger) Purge(ctx context.Context) (int64, error) {
	now := l.clock.Now()

	result, err := l.db.Pool.Exec(ctx, `DELETE FROM revocation_ledger WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge ledger: %w", database.MapPostgresError(err))
	}

	if _, err := l.db.Pool.Exec(ctx, `DELETE FROM revoked_families WHERE expires_at <= $1`, now); err != nil {
		return 0, fmt.Errorf("failed to purge revoked families: %w", database.MapPostgresError(err))
	}

	return result.RowsAffected(), nil
}
