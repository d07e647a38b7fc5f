package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	identityservice "inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/invitation/domain"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// ChannelInvitation labels signups that come from an accepted invitation.
const ChannelInvitation = "invitation"

// View is an invitation as its acceptance page shows it.
type View struct {
	Invitation *domain.Invitation
	Org        *orgdomain.Org
	// Registered is true when an account already uses the invited email; the invitee then logs in
	// and joins instead of signing up.
	Registered bool
}

// NewUserInput is the signup form of an invitee without an account. The email is the invitation's.
type NewUserInput struct {
	FirstName string
	LastName  string
	Password1 string
	Password2 string
}

// AcceptResult is the joined organization, the member and, unless login failed, their session.
type AcceptResult struct {
	Org        *orgdomain.Org
	User       *userdomain.User
	Membership *membershipdomain.Membership
	Session    *identityservice.AuthResult
}

// Lookup returns an acceptable invitation for its acceptance page.
func (s *Service) Lookup(ctx context.Context, invitationID string) (*View, error) {
	inv, err := s.d.Invitations.GetByID(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, ErrInvitationNotFound
	}
	if err := inv.CheckAcceptable(s.now()); err != nil {
		return nil, err
	}
	org, err := s.d.Orgs.GetOrganizationByID(ctx, inv.OrgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrOrganizationNotFound
	}
	if !org.IsActive() {
		return nil, ErrOrganizationInactive
	}
	existing, err := s.d.Users.GetByEmail(ctx, inv.Email)
	if err != nil {
		return nil, err
	}
	return &View{Invitation: inv, Org: org, Registered: existing != nil}, nil
}

// AcceptAsNewUser creates the invitee's account with the invited email and makes them a member.
func (s *Service) AcceptAsNewUser(ctx context.Context, invitationID string, in NewUserInput) (*AcceptResult, error) {
	view, err := s.Lookup(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	role, err := userdomain.RoleForCategory(view.Org.Category)
	if err != nil {
		return nil, err
	}
	account, err := s.d.Registrar.Prepare(userservice.SignupForm{
		Email:     view.Invitation.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password1: in.Password1,
		Password2: in.Password2,
	}, role)
	if err != nil {
		return nil, err
	}

	res := &AcceptResult{}
	err = s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, org, err := s.lockAcceptable(ctx, invitationID)
		if err != nil {
			return err
		}
		user, err := s.d.Registrar.Create(ctx, account)
		if err != nil {
			return err
		}
		m, err := s.join(ctx, inv, org, user)
		if err != nil {
			return err
		}
		res.Org, res.User, res.Membership = org, user, m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterAccept(ctx, invitationID, res)
	return res, nil
}

// AcceptAsExistingUser makes the logged-in user userID a member. The invitation must have been sent
// to their email and their role must fit the organization.
func (s *Service) AcceptAsExistingUser(ctx context.Context, invitationID, userID string) (*AcceptResult, error) {
	res := &AcceptResult{}
	err := s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, org, err := s.lockAcceptable(ctx, invitationID)
		if err != nil {
			return err
		}
		user, err := s.d.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil || user.Email != inv.Email {
			return ErrEmailMismatch
		}
		if err := s.checkRoleFits(ctx, org, user.Role); err != nil {
			return err
		}
		m, err := s.join(ctx, inv, org, user)
		if err != nil {
			return err
		}
		res.Org, res.User, res.Membership = org, user, m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.afterAccept(ctx, invitationID, res)
	return res, nil
}

// lockAcceptable locks the invitation and its organization and checks both still allow acceptance.
func (s *Service) lockAcceptable(ctx context.Context, invitationID string) (*domain.Invitation, *orgdomain.Org, error) {
	inv, err := s.d.Invitations.GetForUpdate(ctx, invitationID)
	if err != nil {
		return nil, nil, err
	}
	if inv == nil {
		return nil, nil, ErrInvitationNotFound
	}
	if err := inv.CheckAcceptable(s.now()); err != nil {
		return nil, nil, err
	}
	org, err := s.d.Orgs.GetOrganizationForUpdate(ctx, inv.OrgID)
	if err != nil {
		return nil, nil, err
	}
	if org == nil {
		return nil, nil, ErrOrganizationNotFound
	}
	if !org.IsActive() {
		return nil, nil, ErrOrganizationInactive
	}
	return inv, org, nil
}

// join adds user to org as a non-admin, reactivating a removed membership, then consumes the
// invitation and bumps the members version.
func (s *Service) join(ctx context.Context, inv *domain.Invitation, org *orgdomain.Org, user *userdomain.User) (*membershipdomain.Membership, error) {
	now := s.now()
	m, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, user.ID, org.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case m != nil && m.IsActive:
		return nil, ErrAlreadyMember
	case m != nil:
		if err := s.d.Memberships.SetActive(ctx, user.ID, org.ID, true); err != nil {
			return nil, err
		}
		m.IsActive, m.IsAdmin, m.JoinedAt, m.UpdatedAt = true, false, now, now
	default:
		m = &membershipdomain.Membership{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			OrgID:     org.ID,
			IsActive:  true,
			JoinedAt:  now,
			UpdatedAt: now,
		}
		if err := s.d.Memberships.CreateMembership(ctx, m); err != nil {
			return nil, err
		}
	}
	if err := inv.Accept(now); err != nil {
		return nil, err
	}
	if err := s.d.Invitations.MarkAccepted(ctx, inv.ID, now); err != nil {
		return nil, err
	}
	if org.MembersVersion, err = s.d.Orgs.BumpMembersVersion(ctx, org.ID); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) afterAccept(ctx context.Context, invitationID string, res *AcceptResult) {
	s.d.Admins.NotifyNewMember(ctx, res.Org, res.User)
	if s.d.Audit != nil {
		s.d.Audit.LogEvent(ctx, res.Org.ID, res.User.ID, audit.ActionInvitationAccepted, audit.ResourceInvitation,
			auditdomain.Metadata("invitation_id", invitationID))
	}
	s.d.Metrics.Signup(ChannelInvitation, false)
	telemetry.EmitAsync(s.d.Emitter, telemetry.Event{
		Type:   telemetry.EventInvitationAccepted,
		OrgID:  res.Org.ID,
		UserID: res.User.ID,
		Source: "invitation",
		Attrs:  map[string]string{"invitation_id": invitationID},
	})
	var err error
	res.Session, err = s.d.Sessions.StartSession(ctx, res.User.ID, res.Org.ID)
	if err != nil {
		s.d.Log.Error("start session after invitation", zap.String("user_id", res.User.ID), zap.Error(err))
		res.Session = nil
	}
}
