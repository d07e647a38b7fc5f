package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"inclusion-platform/backend/internal/invitation/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Invitation
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Invitation)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.m[id]; ok {
		c := *inv
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryRepository) GetForUpdate(ctx context.Context, id string) (*domain.Invitation, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Create(ctx context.Context, inv *domain.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *inv
	r.m[inv.ID] = &c
	return nil
}

func (r *MemoryRepository) ListPendingByOrg(ctx context.Context, orgID string, now time.Time) ([]*domain.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Invitation
	for _, inv := range r.m {
		if inv.OrgID == orgID && inv.Status == domain.StatusPending && !inv.IsExpired(now) {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentAt.After(out[j].SentAt) })
	return out, nil
}

func (r *MemoryRepository) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.m[id]
	if !ok || inv.Status != domain.StatusPending {
		return domain.ErrInvitationAccepted
	}
	t := at
	inv.Status = domain.StatusAccepted
	inv.AcceptedAt = &t
	return nil
}

// Count returns the number of stored invitations.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
