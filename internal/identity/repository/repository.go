package repository

import (
	"context"

	"inclusion-platform/backend/internal/identity/domain"
)

// Repository defines persistence for identities.
type Repository interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.IdentityProvider) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	// UpdatePasswordHash replaces the hash of the user's local identity. No-op if they have none.
	UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error
}
