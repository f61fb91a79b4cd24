package organisation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists organisation aggregates. Implementations must
// make Load/Commit a consistent read-modify-write pair: Commit replaces
// the stored aggregate wholesale, and Load never exposes storage-owned
// memory to callers.
type Repository interface {
	// Create stores a new organisation and returns it with an assigned ID.
	Create(ctx context.Context, name string) (*Organisation, error)

	// Load returns a copy of the organisation, or ErrNotFound.
	Load(ctx context.Context, orgID string) (*Organisation, error)

	// Commit replaces the stored aggregate with org's state.
	Commit(ctx context.Context, org *Organisation) error

	// List returns all organisations ordered by creation time.
	List(ctx context.Context) ([]*Organisation, error)
}

// MemoryRepository is an in-memory Repository for tests and
// single-process deployments.
type MemoryRepository struct {
	mu   sync.RWMutex
	orgs map[string]*Organisation
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orgs: make(map[string]*Organisation)}
}

// Create stores a new organisation.
func (r *MemoryRepository) Create(ctx context.Context, name string) (*Organisation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: organisation name is required", ErrValidation)
	}

	org := &Organisation{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	r.mu.Lock()
	r.orgs[org.ID] = org.Clone()
	r.mu.Unlock()

	return org, nil
}

// Load returns a deep copy of the stored aggregate.
func (r *MemoryRepository) Load(ctx context.Context, orgID string) (*Organisation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	org, ok := r.orgs[orgID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: organisation %q", ErrNotFound, orgID)
	}
	return org.Clone(), nil
}

// Commit replaces the stored aggregate.
func (r *MemoryRepository) Commit(ctx context.Context, org *Organisation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if org == nil || org.ID == "" {
		return fmt.Errorf("%w: organisation with ID is required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orgs[org.ID]; !ok {
		return fmt.Errorf("%w: organisation %q", ErrNotFound, org.ID)
	}
	r.orgs[org.ID] = org.Clone()
	return nil
}

// List returns all organisations ordered by creation time.
func (r *MemoryRepository) List(ctx context.Context) ([]*Organisation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	out := make([]*Organisation, 0, len(r.orgs))
	for _, org := range r.orgs {
		out = append(out, org.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
