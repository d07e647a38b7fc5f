// Package service lists and removes organization members and tells admins about newcomers.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	invitationdomain "inclusion-platform/backend/internal/invitation/domain"
	"inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrNotOrgMember         = errors.New("caller is not a member of the organization")
	ErrNotAdmin             = errors.New("organization admin required")
	ErrCannotRemoveSelf     = errors.New("an admin cannot remove themselves")
	ErrTargetNotMember      = errors.New("user is not an active member of the organization")
)

// OrgRepo is the minimal organization repository needed by the membership service.
type OrgRepo interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
	GetOrganizationForUpdate(ctx context.Context, id string) (*orgdomain.Org, error)
	BumpMembersVersion(ctx context.Context, id string) (int64, error)
}

// MembershipRepo is the minimal membership repository needed by the membership service.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	ListMembershipsByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	SetActive(ctx context.Context, userID, orgID string, active bool) error
}

// UserRepo is the minimal user repository needed by the membership service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// InvitationRepo lists the invitations still awaiting an answer.
type InvitationRepo interface {
	ListPendingByOrg(ctx context.Context, orgID string, now time.Time) ([]*invitationdomain.Invitation, error)
}

// SessionRevoker ends the sessions a removed member holds in the organization.
type SessionRevoker interface {
	RevokeByUserAndOrg(ctx context.Context, userID, orgID string) error
}

// TxRunner runs fn in one transaction (db.TxManager or db.MemoryTxManager).
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Deps are the collaborators of Service. Audit, Emitter, Metrics and Log are optional.
type Deps struct {
	Orgs        OrgRepo
	Memberships MembershipRepo
	Users       UserRepo
	Invitations InvitationRepo
	Sessions    SessionRevoker
	Tx          TxRunner
	Authorizer  engine.Authorizer
	Mailer      notify.Mailer
	Templates   *notify.Templates
	Audit       audit.AuditLogger
	Emitter     telemetry.EventEmitter
	Metrics     *telemetry.Metrics
	Log         *zap.Logger
	// BaseURL prefixes links in emails.
	BaseURL string
}

// Service implements the members page, member removal and the new-member notice to admins.
type Service struct {
	d   Deps
	now func() time.Time
}

// NewService returns a Service over d.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	return &Service{d: d, now: func() time.Time { return time.Now().UTC() }}
}

// Member is an active membership with its user.
type Member struct {
	Membership *domain.Membership
	User       *userdomain.User
}

// MembersPage is what a member sees on the members page.
type MembersPage struct {
	Org     *orgdomain.Org
	Members []Member
	Pending []*invitationdomain.Invitation
	// ViewerIsAdmin lets the page offer removal.
	ViewerIsAdmin bool
}

// ListMembers returns the active members of orgID (admins first, then by join date) and its pending
// unexpired invitations. The viewer must be an active member.
func (s *Service) ListMembers(ctx context.Context, viewerID, orgID string) (*MembersPage, error) {
	org, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrOrganizationNotFound
	}
	viewer, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, viewerID, orgID)
	if err != nil {
		return nil, err
	}
	if viewer == nil || !viewer.IsActive {
		return nil, ErrNotOrgMember
	}
	ms, err := s.d.Memberships.ListMembershipsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	domain.SortForDisplay(ms)
	page := &MembersPage{Org: org, ViewerIsAdmin: viewer.IsAdmin, Members: make([]Member, 0, len(ms))}
	for _, m := range ms {
		u, err := s.d.Users.GetByID(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		page.Members = append(page.Members, Member{Membership: m, User: u})
	}
	page.Pending, err = s.d.Invitations.ListPendingByOrg(ctx, orgID, s.now())
	if err != nil {
		return nil, err
	}
	return page, nil
}

// RemoveMember deactivates targetID's membership in orgID on behalf of admin actorID.
// The membership row is kept so a later invitation can reactivate it.
func (s *Service) RemoveMember(ctx context.Context, actorID, orgID, targetID string) error {
	if actorID == targetID {
		return ErrCannotRemoveSelf
	}
	var org *orgdomain.Org
	err := s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		org, err = s.d.Orgs.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if org == nil {
			return ErrOrganizationNotFound
		}
		actor, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, actorID, orgID)
		if err != nil {
			return err
		}
		if actor == nil || !actor.IsActive {
			return ErrNotOrgMember
		}
		if !actor.IsAdmin {
			return ErrNotAdmin
		}
		target, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, targetID, orgID)
		if err != nil {
			return err
		}
		if target == nil || !target.IsActive {
			return ErrTargetNotMember
		}
		allowed, err := s.d.Authorizer.Allowed(ctx, engine.CanRemoveMember, engine.Input{
			ActorIsMember:  true,
			ActorIsAdmin:   true,
			OrgCategory:    string(org.Category),
			OrgActive:      org.IsActive(),
			TargetIsMember: true,
		})
		if err != nil {
			return fmt.Errorf("authorize removal: %w", err)
		}
		if !allowed {
			return ErrNotAdmin
		}
		if err := s.d.Memberships.SetActive(ctx, targetID, orgID, false); err != nil {
			return err
		}
		_, err = s.d.Orgs.BumpMembersVersion(ctx, orgID)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.d.Sessions.RevokeByUserAndOrg(ctx, targetID, orgID); err != nil {
		s.d.Log.Error("revoke sessions of removed member", zap.String("user_id", targetID), zap.String("org_id", orgID), zap.Error(err))
	}
	s.notifyRemoved(ctx, org, targetID)
	if s.d.Audit != nil {
		s.d.Audit.LogEvent(ctx, orgID, actorID, audit.ActionMemberRemoved, audit.ResourceMembership,
			auditdomain.Metadata("target_user_id", targetID))
	}
	s.d.Metrics.MemberRemoved()
	telemetry.EmitAsync(s.d.Emitter, telemetry.Event{
		Type:   telemetry.EventMemberRemoved,
		OrgID:  orgID,
		UserID: actorID,
		Source: "membership",
		Attrs:  map[string]string{"target_user_id": targetID},
	})
	return nil
}

func (s *Service) notifyRemoved(ctx context.Context, org *orgdomain.Org, userID string) {
	u, err := s.d.Users.GetByID(ctx, userID)
	if err != nil || u == nil {
		s.d.Log.Warn("removed member not found for notice", zap.String("user_id", userID), zap.Error(err))
		return
	}
	msg, err := s.d.Templates.MemberRemoved(u.Email, notify.MemberRemovedData{
		FirstName: u.FirstName, LastName: u.LastName, OrgName: org.DisplayName(),
	})
	if err == nil {
		err = s.d.Mailer.Send(ctx, msg)
	}
	if err != nil {
		s.d.Log.Error("send member removed email", zap.String("org_id", org.ID), zap.Error(err))
	}
}

// AdminEmails returns the emails of the active admins of orgID, excluding excludeUserID.
func (s *Service) AdminEmails(ctx context.Context, orgID, excludeUserID string) ([]string, error) {
	ms, err := s.d.Memberships.ListMembershipsByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var emails []string
	for _, m := range ms {
		if !m.IsAdmin || m.UserID == excludeUserID {
			continue
		}
		u, err := s.d.Users.GetByID(ctx, m.UserID)
		if err != nil {
			return nil, err
		}
		if u != nil && u.Status == userdomain.UserStatusActive {
			emails = append(emails, u.Email)
		}
	}
	return emails, nil
}

// NotifyNewMember sends one email, addressed to every active admin but the newcomer, naming who
// joined. Called after commit; failures are logged, never returned.
func (s *Service) NotifyNewMember(ctx context.Context, org *orgdomain.Org, newcomer *userdomain.User) {
	admins, err := s.AdminEmails(ctx, org.ID, newcomer.ID)
	if err != nil {
		s.d.Log.Error("list admins for new member notice", zap.String("org_id", org.ID), zap.Error(err))
		return
	}
	if len(admins) == 0 {
		return
	}
	msg, err := s.d.Templates.NewMember(admins, notify.NewMemberData{
		FirstName:  newcomer.FirstName,
		LastName:   newcomer.LastName,
		Email:      newcomer.Email,
		OrgName:    org.DisplayName(),
		OrgKind:    string(org.Kind),
		Siret:      org.Siret,
		MembersURL: s.d.BaseURL + "/members",
	})
	if err == nil {
		err = s.d.Mailer.Send(ctx, msg)
	}
	if err != nil {
		s.d.Log.Error("send new member email", zap.String("org_id", org.ID), zap.Error(err))
	}
}

// Overview is the dashboard of a logged-in user: who they are and, when their session is bound to
// an organization, that organization and their membership in it.
type Overview struct {
	User       *userdomain.User
	Org        *orgdomain.Org
	Membership *domain.Membership
	// Organizations are the active organizations the user can switch to, current one included.
	Organizations []*orgdomain.Org
}

// Overview loads the dashboard of userID. orgID may be empty; an org the user is no longer an
// active member of is left out.
func (s *Service) Overview(ctx context.Context, userID, orgID string) (*Overview, error) {
	u, err := s.d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotOrgMember
	}
	out := &Overview{User: u}
	if out.Organizations, err = s.activeOrgs(ctx, userID); err != nil {
		return nil, err
	}
	if orgID == "" {
		return out, nil
	}
	m, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsActive {
		return out, nil
	}
	org, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	out.Org, out.Membership = org, m
	return out, nil
}

func (s *Service) activeOrgs(ctx context.Context, userID string) ([]*orgdomain.Org, error) {
	ms, err := s.d.Memberships.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var orgs []*orgdomain.Org
	for _, m := range ms {
		if !m.IsActive {
			continue
		}
		org, err := s.d.Orgs.GetOrganizationByID(ctx, m.OrgID)
		if err != nil {
			return nil, err
		}
		if org != nil && org.IsActive() {
			orgs = append(orgs, org)
		}
	}
	return orgs, nil
}

// SwitchTarget returns orgID when userID may work in it: the organization is active and the user
// is an active member. Anything else is ErrOrganizationNotFound.
func (s *Service) SwitchTarget(ctx context.Context, userID, orgID string) (*orgdomain.Org, error) {
	if orgID == "" {
		return nil, ErrOrganizationNotFound
	}
	org, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil || !org.IsActive() {
		return nil, ErrOrganizationNotFound
	}
	m, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsActive {
		return nil, ErrOrganizationNotFound
	}
	return org, nil
}
