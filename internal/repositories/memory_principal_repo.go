package repositories

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	"github.com/google/uuid"
)

// MemoryPrincipalRepository is an in-process identity store for development and tests
type MemoryPrincipalRepository struct {
	mu         sync.RWMutex
	principals map[string]*models.Principal
	byEmail    map[string]string
}

func NewMemoryPrincipalRepository() *MemoryPrincipalRepository {
	return &MemoryPrincipalRepository{
		principals: make(map[string]*models.Principal),
		byEmail:    make(map[string]string),
	}
}

func (r *MemoryPrincipalRepository) FindByID(ctx context.Context, id string) (*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.principals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *MemoryPrincipalRepository) FindByEmail(ctx context.Context, email string) (*models.Principal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.principals[id].Clone(), nil
}

func (r *MemoryPrincipalRepository) Create(ctx context.Context, p *models.Principal) (*models.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(p.Email))
	if _, exists := r.byEmail[email]; exists {
		return nil, models.ErrConflict
	}

	stored := p.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Email = email
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	r.principals[stored.ID] = stored
	r.byEmail[email] = stored.ID
	return stored.Clone(), nil
}

func (r *MemoryPrincipalRepository) UpdateSecondFactorState(ctx context.Context, id string, expectedVersion int64, state models.SecondFactorState) (*models.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if p.SecondFactorVersion != expectedVersion {
		return nil, models.ErrConflict
	}

	p.ApplySecondFactorState(state)
	p.UpdatedAt = time.Now().UTC()
	return p.Clone(), nil
}

// Delete removes a principal; used to model account deletion
func (r *MemoryPrincipalRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.principals[id]
	if !ok {
		return models.ErrNotFound
	}
	delete(r.byEmail, p.Email)
	delete(r.principals, id)
	return nil
}

func (r *MemoryPrincipalRepository) CheckPassword(p *models.Principal, plaintext string) bool {
	return pkgauth.ComparePassword(p.PasswordHash, plaintext) == nil
}
