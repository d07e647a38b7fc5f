package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// ChannelSecretCode labels prescriber signups that used an organization secret code.
const ChannelSecretCode = "secret_code"

// SecretCodeInput is the prescriber signup form.
type SecretCodeInput struct {
	SecretCode string
	FirstName  string
	LastName   string
	Email      string
	Password1  string
	Password2  string
}

// JoinWithSecretCode creates a prescriber account and makes it a non-admin member of the
// organization holding the code. The organization must already have a member; its admins are told.
func (s *Service) JoinWithSecretCode(ctx context.Context, in SecretCodeInput) (*FinalizeResult, error) {
	code := orgdomain.NormalizeSecretCode(in.SecretCode)
	if code == "" {
		return nil, ErrUnknownSecretCode
	}
	org, err := s.d.Orgs.GetBySecretCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ErrUnknownSecretCode
	}
	if !org.IsActive() {
		return nil, ErrOrganizationInactive
	}
	account, err := s.d.Registrar.Prepare(userservice.SignupForm{
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Password1: in.Password1,
		Password2: in.Password2,
	}, userdomain.RolePrescriber)
	if err != nil {
		return nil, err
	}

	res := &FinalizeResult{}
	err = s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		org, err := s.d.Orgs.GetOrganizationForUpdate(ctx, org.ID)
		if err != nil {
			return err
		}
		if org == nil || org.SecretCode != code {
			return ErrUnknownSecretCode
		}
		allowed, err := s.d.Authorizer.Allowed(ctx, engine.CanJoin, engine.Input{
			ActorRole:   string(userdomain.RolePrescriber),
			OrgCategory: string(org.Category),
			OrgActive:   org.IsActive(),
		})
		if err != nil {
			return fmt.Errorf("authorize join: %w", err)
		}
		if !allowed {
			if !org.IsActive() {
				return ErrOrganizationInactive
			}
			return ErrJoinNotAllowed
		}
		members, err := s.d.Memberships.CountActiveByOrg(ctx, org.ID)
		if err != nil {
			return err
		}
		if members == 0 {
			return ErrSecretCodeNoMembers
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
	s.welcome(ctx, res, ChannelSecretCode, true)
	return res, nil
}
