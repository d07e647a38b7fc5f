package repository

import (
	"context"

	"inclusion-platform/backend/internal/membership/domain"
)

// Repository defines persistence for memberships.
type Repository interface {
	// GetMembershipByUserAndOrg returns the membership row whatever its active flag, or nil.
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	// ListMembershipsByOrg returns active memberships, admin first then by join date.
	ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	// ListMembershipsByUser returns the user's active memberships ordered by join date.
	ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	CountActiveByOrg(ctx context.Context, orgID string) (int64, error)
	CreateMembership(ctx context.Context, m *domain.Membership) error
	// SetActive flips the active flag. Reactivation resets the join date and drops admin rights.
	SetActive(ctx context.Context, userID, orgID string, active bool) error
}
