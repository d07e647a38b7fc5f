package rbac

import (
	"context"
	"errors"

	"inclusion-platform/backend/internal/membership/domain"
)

// Sentinel errors; handlers map them to a login redirect or a 403 page.
var (
	ErrUnauthenticated = errors.New("org and user context required")
	ErrNotMember       = errors.New("not a member of this organization")
	ErrNotAdmin        = errors.New("organization admin required")
)

// OrgMembershipGetter returns a user's membership in an org. Used to resolve the caller's standing.
type OrgMembershipGetter interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// RequireOrgAdmin ensures the caller is authenticated and an active admin of the context org.
func RequireOrgAdmin(ctx context.Context, getter OrgMembershipGetter) (*domain.Membership, error) {
	m, err := RequireOrgMember(ctx, getter)
	if err != nil {
		return nil, err
	}
	if !m.IsAdmin {
		return nil, ErrNotAdmin
	}
	return m, nil
}
