package rbac

import (
	"context"
	"fmt"

	"inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/server/middleware"
)

// RequireOrgMember ensures the caller is authenticated and an active member of the context org.
// Returns the caller's membership on success.
func RequireOrgMember(ctx context.Context, getter OrgMembershipGetter) (*domain.Membership, error) {
	orgID, okOrg := middleware.GetOrgID(ctx)
	userID, okUser := middleware.GetUserID(ctx)
	if !okOrg || !okUser {
		return nil, ErrUnauthenticated
	}
	m, err := getter.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("resolve membership: %w", err)
	}
	if m == nil || !m.IsActive {
		return nil, ErrNotMember
	}
	return m, nil
}
