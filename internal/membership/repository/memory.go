package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"inclusion-platform/backend/internal/membership/domain"
)

// MemoryRepository is an in-process Repository keyed by "userID:orgID".
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Membership
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Membership)}
}

func key(userID, orgID string) string { return userID + ":" + orgID }

func (r *MemoryRepository) GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.m[key(userID, orgID)]; ok {
		c := *m
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryRepository) ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	out := r.filter(func(m *domain.Membership) bool { return m.OrgID == orgID && m.IsActive })
	domain.SortForDisplay(out)
	return out, nil
}

func (r *MemoryRepository) ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	out := r.filter(func(m *domain.Membership) bool { return m.UserID == userID && m.IsActive })
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (r *MemoryRepository) CountActiveByOrg(ctx context.Context, orgID string) (int64, error) {
	return int64(len(r.filter(func(m *domain.Membership) bool { return m.OrgID == orgID && m.IsActive }))), nil
}

func (r *MemoryRepository) CreateMembership(ctx context.Context, m *domain.Membership) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *m
	r.m[key(m.UserID, m.OrgID)] = &c
	return nil
}

func (r *MemoryRepository) SetActive(ctx context.Context, userID, orgID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.m[key(userID, orgID)]; ok {
		now := time.Now().UTC()
		m.IsActive = active
		m.UpdatedAt = now
		if active {
			m.JoinedAt = now
			m.IsAdmin = false
		}
	}
	return nil
}

func (r *MemoryRepository) filter(keep func(*domain.Membership) bool) []*domain.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Membership
	for _, m := range r.m {
		if keep(m) {
			c := *m
			out = append(out, &c)
		}
	}
	return out
}
