package repository

import (
	"context"

	"inclusion-platform/backend/internal/organization/domain"
)

// Repository defines persistence for organizations.
type Repository interface {
	GetOrganizationByID(ctx context.Context, id string) (*domain.Org, error)
	// GetOrganizationForUpdate returns the org and locks its row until the surrounding transaction ends.
	GetOrganizationForUpdate(ctx context.Context, id string) (*domain.Org, error)
	ListBySiretAndKind(ctx context.Context, siret string, kind domain.Kind) ([]*domain.Org, error)
	ListByAuthEmailAndKind(ctx context.Context, email string, kind domain.Kind) ([]*domain.Org, error)
	// GetBySecretCode returns the organization whose secret code is code, or nil.
	GetBySecretCode(ctx context.Context, code string) (*domain.Org, error)
	ListOrganizations(ctx context.Context, category domain.Category, limit, offset int32) ([]*domain.Org, error)
	CreateOrganization(ctx context.Context, o *domain.Org) error
	UpdateStatus(ctx context.Context, id string, status domain.OrgStatus) error
	// BumpMembersVersion increments MembersVersion and returns the new value.
	BumpMembersVersion(ctx context.Context, id string) (int64, error)
}
