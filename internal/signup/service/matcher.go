package service

import (
	"context"
	"fmt"
	"time"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Delivery says how the magic link reaches the newcomer.
type Delivery string

const (
	// DeliveryEmailed: the organization has no member yet; the link went to its authentication email.
	DeliveryEmailed Delivery = "emailed"
	// DeliveryRedirect: the organization has members; the newcomer follows the link at once and
	// the admins learn about the signup afterwards.
	DeliveryRedirect Delivery = "redirected"
)

// Metric results of Select and OpenLink.
const (
	resultNotFound  = "not_found"
	resultAmbiguous = "ambiguous"
	resultInactive  = "inactive"
	resultInvalid   = "invalid"
)

// SelectInput is the organization selection form.
type SelectInput struct {
	Email string
	Siret string
	Kind  string
}

// SelectResult is a matched organization and its freshly issued link.
type SelectResult struct {
	Org      *orgdomain.Org
	Delivery Delivery
	// LinkPath is /signup/join/{encoded org id}/{token}.
	LinkPath string
	// ObfuscatedEmail is set when the link was emailed.
	ObfuscatedEmail string
	ExpiresAt       time.Time
}

// LinkForm is what an opened magic link shows: the organization to join and the role the account gets.
type LinkForm struct {
	Org          *orgdomain.Org
	EncodedOrgID string
	Token        string
	Role         userdomain.Role
}

// LinkPath builds the path of a magic link.
func LinkPath(orgID, token string) string {
	return "/signup/join/" + security.EncodeOrgID(orgID) + "/" + token
}

// Select resolves the organization a newcomer belongs to and issues a magic link bound to its
// current members version. A SIRET match wins over an email match.
func (s *Service) Select(ctx context.Context, in SelectInput) (*SelectResult, error) {
	kind, err := orgdomain.ParseKind(in.Kind)
	if err != nil {
		return nil, err
	}
	email := userdomain.NormalizeEmail(in.Email)
	siret, err := orgdomain.NormalizeSiret(in.Siret)
	if err != nil {
		return nil, err
	}
	if email == "" && siret == "" {
		return nil, ErrMissingIdentifyingField
	}
	if email != "" && !userservice.ValidEmail(email) {
		return nil, userservice.ErrInvalidEmail
	}

	org, err := s.match(ctx, siret, email, kind)
	if err != nil {
		return nil, err
	}
	if !org.IsActive() {
		s.d.Metrics.MagicLinkResult(resultInactive)
		return nil, ErrOrganizationInactive
	}

	members, err := s.d.Memberships.CountActiveByOrg(ctx, org.ID)
	if err != nil {
		return nil, err
	}
	issued, err := s.d.Tokens.IssueMagicLink(org.ID, org.MembersVersion)
	if err != nil {
		return nil, fmt.Errorf("issue magic link: %w", err)
	}
	res := &SelectResult{
		Org:       org,
		LinkPath:  LinkPath(org.ID, issued.Token),
		ExpiresAt: issued.ExpiresAt,
	}
	if members > 0 {
		res.Delivery = DeliveryRedirect
	} else {
		if err := s.mailLink(ctx, org, res); err != nil {
			return nil, err
		}
		res.Delivery = DeliveryEmailed
		res.ObfuscatedEmail = org.ObfuscatedAuthEmail()
		if s.d.Audit != nil {
			s.d.Audit.LogEvent(ctx, org.ID, "", audit.ActionMagicLinkSent, audit.ResourceOrganization,
				auditdomain.Metadata("to", res.ObfuscatedEmail))
		}
	}
	s.d.Metrics.MagicLinkResult(string(res.Delivery))
	telemetry.EmitAsync(s.d.Emitter, telemetry.Event{
		Type:   telemetry.EventMagicLinkIssued,
		OrgID:  org.ID,
		Source: "signup",
		Attrs:  map[string]string{"delivery": string(res.Delivery)},
	})
	return res, nil
}

func (s *Service) match(ctx context.Context, siret, email string, kind orgdomain.Kind) (*orgdomain.Org, error) {
	if siret != "" {
		orgs, err := s.d.Orgs.ListBySiretAndKind(ctx, siret, kind)
		if err != nil {
			return nil, err
		}
		if len(orgs) == 1 {
			return orgs[0], nil
		}
	}
	if email != "" {
		orgs, err := s.d.Orgs.ListByAuthEmailAndKind(ctx, email, kind)
		if err != nil {
			return nil, err
		}
		switch {
		case len(orgs) == 1:
			return orgs[0], nil
		case len(orgs) > 1:
			s.d.Metrics.MagicLinkResult(resultAmbiguous)
			return nil, ErrAmbiguousMatch
		}
	}
	s.d.Metrics.MagicLinkResult(resultNotFound)
	return nil, ErrNotFound
}

func (s *Service) mailLink(ctx context.Context, org *orgdomain.Org, res *SelectResult) error {
	msg, err := s.d.Templates.MagicLink(org.AuthEmail, notify.MagicLinkData{
		OrgName:   org.DisplayName(),
		OrgKind:   string(org.Kind),
		Siret:     org.Siret,
		Link:      s.d.BaseURL + res.LinkPath,
		ExpiresAt: res.ExpiresAt,
	})
	if err != nil {
		return err
	}
	if err := s.d.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	return nil
}

// OpenLink checks a magic link still designates an active organization whose members have not
// changed since it was issued. Opening a link changes nothing, so it can be reopened at will.
func (s *Service) OpenLink(ctx context.Context, encodedOrgID, token string) (*LinkForm, error) {
	orgID, version, err := s.verifyLink(encodedOrgID, token)
	if err != nil {
		return nil, err
	}
	org, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.checkCurrent(org, version); err != nil {
		return nil, err
	}
	role, err := userdomain.RoleForCategory(org.Category)
	if err != nil {
		return nil, err
	}
	return &LinkForm{Org: org, EncodedOrgID: encodedOrgID, Token: token, Role: role}, nil
}

// verifyLink checks the signature and expiry of token and that it names the organization in the path.
func (s *Service) verifyLink(encodedOrgID, token string) (string, int64, error) {
	pathOrgID, err := security.DecodeOrgID(encodedOrgID)
	if err != nil {
		s.d.Metrics.MagicLinkResult(resultInvalid)
		return "", 0, ErrExpiredOrInvalidLink
	}
	orgID, version, err := s.d.Tokens.ValidateMagicLink(token)
	if err != nil || orgID != pathOrgID {
		s.d.Metrics.MagicLinkResult(resultInvalid)
		return "", 0, ErrExpiredOrInvalidLink
	}
	return orgID, version, nil
}

func (s *Service) checkCurrent(org *orgdomain.Org, version int64) error {
	if org == nil || !org.IsActive() || org.MembersVersion != version {
		s.d.Metrics.MagicLinkResult(resultInvalid)
		return ErrExpiredOrInvalidLink
	}
	return nil
}
