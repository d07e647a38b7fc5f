package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"inclusion-platform/backend/internal/organization/domain"
)

// MemoryRepository is an in-process Repository used when no database is configured and in tests.
type MemoryRepository struct {
	mu   sync.Mutex
	orgs map[string]*domain.Org
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orgs: make(map[string]*domain.Org)}
}

func (r *MemoryRepository) GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orgs[id]; ok {
		c := *o
		return &c, nil
	}
	return nil, nil
}

// GetOrganizationForUpdate has no row lock; callers serialize through db.MemoryTxManager.
func (r *MemoryRepository) GetOrganizationForUpdate(ctx context.Context, id string) (*domain.Org, error) {
	return r.GetOrganizationByID(ctx, id)
}

func (r *MemoryRepository) ListBySiretAndKind(ctx context.Context, siret string, kind domain.Kind) ([]*domain.Org, error) {
	return r.filter(func(o *domain.Org) bool { return o.Siret != "" && o.Siret == siret && o.Kind == kind }), nil
}

func (r *MemoryRepository) ListByAuthEmailAndKind(ctx context.Context, email string, kind domain.Kind) ([]*domain.Org, error) {
	return r.filter(func(o *domain.Org) bool { return strings.EqualFold(o.AuthEmail, email) && o.Kind == kind }), nil
}

func (r *MemoryRepository) GetBySecretCode(ctx context.Context, code string) (*domain.Org, error) {
	if code == "" {
		return nil, nil
	}
	found := r.filter(func(o *domain.Org) bool { return o.SecretCode == code })
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

func (r *MemoryRepository) ListOrganizations(ctx context.Context, category domain.Category, limit, offset int32) ([]*domain.Org, error) {
	all := r.filter(func(o *domain.Org) bool { return category == "" || o.Category == category })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	if int(offset) >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && int(limit) < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *MemoryRepository) CreateOrganization(ctx context.Context, o *domain.Org) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.Siret != "" {
		for _, existing := range r.orgs {
			if existing.Siret == o.Siret && existing.Kind == o.Kind {
				return ErrDuplicateSiretKind
			}
		}
	}
	c := *o
	r.orgs[o.ID] = &c
	return nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orgs[id]; ok {
		o.Status = status
		o.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *MemoryRepository) BumpMembersVersion(ctx context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[id]
	if !ok {
		return 0, nil
	}
	o.MembersVersion++
	o.UpdatedAt = time.Now().UTC()
	return o.MembersVersion, nil
}

func (r *MemoryRepository) filter(keep func(*domain.Org) bool) []*domain.Org {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Org
	for _, o := range r.orgs {
		if keep(o) {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
