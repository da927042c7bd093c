package repositories

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const principalColumns = `id, email, name, password_hash, second_factor_enabled, second_factor_seed,
	recovery_codes, second_factor_confirmed_at, second_factor_version, created_at, updated_at`

// PrincipalRepository is the Postgres identity store
type PrincipalRepository struct {
	pool *pgxpool.Pool
}

func NewPrincipalRepository(db *database.DB) *PrincipalRepository {
	return &PrincipalRepository{pool: db.Pool}
}

// rowScanner interface for scanning principal rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPrincipalRow handles nullable fields and populates a Principal from a database row
func scanPrincipalRow(scanner rowScanner) (*models.Principal, error) {
	var p models.Principal
	var confirmedAt *time.Time

	err := scanner.Scan(
		&p.ID, &p.Email, &p.Name, &p.PasswordHash,
		&p.SecondFactorEnabled, &p.SecondFactorSeed, &p.RecoveryCodes,
		&confirmedAt, &p.SecondFactorVersion,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	p.SecondFactorConfirmedAt = confirmedAt
	return &p, nil
}

func (r *PrincipalRepository) FindByID(ctx context.Context, id string) (*models.Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return scanPrincipalRow(r.pool.QueryRow(ctx, query, id))
}

func (r *PrincipalRepository) FindByEmail(ctx context.Context, email string) (*models.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE email = $1`
	return scanPrincipalRow(r.pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	p.ID = uuid.New().String()
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO principals (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + principalColumns

	return scanPrincipalRow(r.pool.QueryRow(ctx, query,
		p.ID, p.Email, p.Name, p.PasswordHash, p.CreatedAt, p.UpdatedAt,
	))
}

// UpdateSecondFactorState writes every second-factor field in one statement.
// It returns ErrConflict when the stored version no longer equals expectedVersion.
func (r *PrincipalRepository) UpdateSecondFactorState(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error) {
	query := `
		UPDATE principals
		SET second_factor_enabled = $3,
			second_factor_seed = $4,
			recovery_codes = $5,
			second_factor_confirmed_at = $6,
			second_factor_version = second_factor_version + 1,
			updated_at = NOW()
		WHERE id = $1 AND second_factor_version = $2
		RETURNING ` + principalColumns

	p, err := scanPrincipalRow(r.pool.QueryRow(ctx, query,
		id, expectedVersion, state.Enabled(), state.Seed(), state.RecoveryCodes(), state.ConfirmedAt(),
	))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	// Distinguish a lost race from a missing principal
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM principals WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, database.MapPostgresError(err)
	}
	if exists {
		return nil, models.ErrConflict
	}
	return nil, models.ErrNotFound
}

// CheckPassword compares plaintext with the stored bcrypt hash
func (r *PrincipalRepository) CheckPassword(p *models.Principal, plaintext string) bool {
	return pkgauth.ComparePassword(p.PasswordHash, plaintext) == nil
}
