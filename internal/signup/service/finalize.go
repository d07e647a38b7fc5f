package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	identityservice "inclusion-platform/backend/internal/identity/service"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// ChannelMagicLink labels signups finalized through a magic link.
const ChannelMagicLink = "magic_link"

// FinalizeInput is the signup form submitted from an opened magic link.
type FinalizeInput struct {
	EncodedOrgID string
	Token        string
	FirstName    string
	LastName     string
	Email        string
	Password1    string
	Password2    string
}

// FinalizeResult is the new member and, unless login failed, their session.
type FinalizeResult struct {
	Org        *orgdomain.Org
	User       *userdomain.User
	Membership *membershipdomain.Membership
	// Session is nil when the session could not be opened; the caller sends the user to login.
	Session *identityservice.AuthResult
}

// FinalizeMagicLink creates the user, its identity and its membership in one transaction.
// The organization row is locked and the link re-checked against it, so when two signups race on
// one link the loser sees the bumped members version and gets ErrExpiredOrInvalidLink.
func (s *Service) FinalizeMagicLink(ctx context.Context, in FinalizeInput) (*FinalizeResult, error) {
	orgID, version, err := s.verifyLink(in.EncodedOrgID, in.Token)
	if err != nil {
		return nil, err
	}
	// Check the form and hash the password before taking the row lock.
	current, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCurrent(current, version); err != nil {
		return nil, err
	}
	role, err := userdomain.RoleForCategory(current.Category)
	if err != nil {
		return nil, err
	}
	account, err := s.d.Registrar.Prepare(userservice.SignupForm{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password1: in.Password1,
		Password2: in.Password2,
	}, role)
	if err != nil {
		return nil, err
	}

	var (
		res          = &FinalizeResult{}
		priorMembers int64
	)
	err = s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		org, err := s.d.Orgs.GetOrganizationForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if err := s.checkCurrent(org, version); err != nil {
			return err
		}
		allowed, err := s.d.Authorizer.Allowed(ctx, engine.CanJoin, engine.Input{
			ActorRole:   string(role),
			OrgCategory: string(org.Category),
			OrgActive:   org.IsActive(),
		})
		if err != nil {
			return fmt.Errorf("authorize join: %w", err)
		}
		if !allowed {
			return ErrJoinNotAllowed
		}
		priorMembers, err = s.d.Memberships.CountActiveByOrg(ctx, org.ID)
		if err != nil {
			return err
		}
		user, err := s.d.Registrar.Create(ctx, account)
		if err != nil {
			return err
		}
		now := s.now()
		m := &membershipdomain.Membership{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			OrgID:     org.ID,
			IsAdmin:   priorMembers == 0,
			IsActive:  true,
			JoinedAt:  now,
			UpdatedAt: now,
		}
		if err := s.d.Memberships.CreateMembership(ctx, m); err != nil {
			return err
		}
		if org.MembersVersion, err = s.d.Orgs.BumpMembersVersion(ctx, org.ID); err != nil {
			return err
		}
		res.Org, res.User, res.Membership = org, user, m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.welcome(ctx, res, ChannelMagicLink, priorMembers > 0)
	return res, nil
}

// welcome runs the post-commit side effects of a signup and opens the newcomer's session.
func (s *Service) welcome(ctx context.Context, res *FinalizeResult, channel string, notifyAdmins bool) {
	if notifyAdmins {
		s.d.Admins.NotifyNewMember(ctx, res.Org, res.User)
	}
	if s.d.Audit != nil {
		s.d.Audit.LogEvent(ctx, res.Org.ID, res.User.ID, audit.ActionMemberJoined, audit.ResourceMembership,
			auditdomain.Metadata("channel", channel, "admin", fmt.Sprint(res.Membership.IsAdmin)))
	}
	s.d.Metrics.Signup(channel, res.Membership.IsAdmin)
	telemetry.EmitAsync(s.d.Emitter, telemetry.Event{
		Type:   telemetry.EventMemberJoined,
		OrgID:  res.Org.ID,
		UserID: res.User.ID,
		Source: "signup",
		Attrs:  map[string]string{"channel": channel},
	})

	var err error
	res.Session, err = s.d.Sessions.StartSession(ctx, res.User.ID, res.Org.ID)
	if err != nil {
		s.d.Log.Error("start session after signup", zap.String("user_id", res.User.ID), zap.String("channel", channel), zap.Error(err))
		res.Session = nil
	}
}
