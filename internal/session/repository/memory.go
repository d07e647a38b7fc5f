package repository

import (
	"context"
	"sync"
	"time"

	"inclusion-platform/backend/internal/session/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]*domain.Session)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		c := *s
		return &c, nil
	}
	return nil, nil
}

func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.m[s.ID] = &c
	return nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id string) error {
	return r.revokeWhere(func(s *domain.Session) bool { return s.ID == id })
}

func (r *MemoryRepository) RevokeAllSessionsByUser(ctx context.Context, userID string) error {
	return r.revokeWhere(func(s *domain.Session) bool { return s.UserID == userID })
}

func (r *MemoryRepository) RevokeByUserAndOrg(ctx context.Context, userID, orgID string) error {
	return r.revokeWhere(func(s *domain.Session) bool { return s.UserID == userID && s.OrgID == orgID })
}

func (r *MemoryRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		t := at
		s.LastSeenAt = &t
	}
	return nil
}

func (r *MemoryRepository) UpdateRefreshToken(ctx context.Context, sessionID, jti, refreshTokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[sessionID]; ok {
		s.RefreshJti = jti
		s.RefreshTokenHash = refreshTokenHash
	}
	return nil
}

func (r *MemoryRepository) revokeWhere(match func(*domain.Session) bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.m {
		if s.RevokedAt == nil && match(s) {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}
