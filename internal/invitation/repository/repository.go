package repository

import (
	"context"
	"time"

	"inclusion-platform/backend/internal/invitation/domain"
)

// Repository defines persistence for invitations.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Invitation, error)
	// GetForUpdate returns the invitation and locks its row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id string) (*domain.Invitation, error)
	Create(ctx context.Context, inv *domain.Invitation) error
	// ListPendingByOrg returns pending invitations not expired at now, newest first.
	ListPendingByOrg(ctx context.Context, orgID string, now time.Time) ([]*domain.Invitation, error)
	MarkAccepted(ctx context.Context, id string, at time.Time) error
}
