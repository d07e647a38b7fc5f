package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	auditdomain "inclusion-platform/backend/internal/audit/domain"
	"inclusion-platform/backend/internal/invitation/domain"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Invitee is one row of an invitation batch.
type Invitee struct {
	FirstName string
	LastName  string
	Email     string
}

// RowError is the first problem found on one batch row.
type RowError struct {
	Index int
	Email string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Index, e.Email, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// BatchError rejects a whole batch. It lists every invalid row; nothing was persisted.
type BatchError struct {
	Rows []*RowError
}

func (e *BatchError) Error() string {
	return "invitation batch rejected: " + strconv.Itoa(len(e.Rows)) + " invalid row(s)"
}

// Unwrap exposes the row errors to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	out := make([]error, len(e.Rows))
	for i, r := range e.Rows {
		out[i] = r
	}
	return out
}

// ForRow returns the error of row i, or nil.
func (e *BatchError) ForRow(i int) error {
	for _, r := range e.Rows {
		if r.Index == i {
			return r.Err
		}
	}
	return nil
}

// SendBatch validates every row, persists all invitations in one transaction and mails each invitee.
// A single invalid row rejects the batch with a *BatchError.
func (s *Service) SendBatch(ctx context.Context, senderID, orgID string, invitees []Invitee) ([]*domain.Invitation, error) {
	org, sender, err := s.checkSender(ctx, senderID, orgID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(invitees) == 0:
		return nil, ErrBatchEmpty
	case len(invitees) > MaxBatchSize:
		return nil, ErrBatchTooLarge
	}

	batchErr := &BatchError{}
	seen := make(map[string]bool, len(invitees))
	for i, in := range invitees {
		email := userdomain.NormalizeEmail(in.Email)
		if err := s.checkRow(ctx, org, in, email); err != nil {
			batchErr.Rows = append(batchErr.Rows, &RowError{Index: i, Email: email, Err: err})
			continue
		}
		if seen[email] {
			batchErr.Rows = append(batchErr.Rows, &RowError{Index: i, Email: email, Err: ErrDuplicateInBatch})
			continue
		}
		seen[email] = true
	}
	if len(batchErr.Rows) > 0 {
		return nil, batchErr
	}

	now := s.now()
	invitations := make([]*domain.Invitation, 0, len(invitees))
	for _, in := range invitees {
		inv := domain.NewInvitation(domain.NewInvitationInput{
			SenderID:  senderID,
			OrgID:     orgID,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Email:     in.Email,
		}, uuid.New().String(), now, s.d.TTL)
		if err := inv.Validate(); err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	err = s.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		for _, inv := range invitations {
			if err := s.d.Invitations.Create(ctx, inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, inv := range invitations {
		s.mailInvitation(ctx, org, sender, inv)
		if s.d.Audit != nil {
			s.d.Audit.LogEvent(ctx, orgID, senderID, audit.ActionInvitationSent, audit.ResourceInvitation,
				auditdomain.Metadata("invitation_id", inv.ID, "email", inv.Email))
		}
	}
	s.d.Metrics.Invitations(len(invitations))
	telemetry.EmitAsync(s.d.Emitter, telemetry.Event{
		Type:   telemetry.EventInvitationsSent,
		OrgID:  orgID,
		UserID: senderID,
		Source: "invitation",
		Attrs:  map[string]string{"count": strconv.Itoa(len(invitations))},
	})
	return invitations, nil
}

// checkSender loads the organization and checks senderID may invite into it.
func (s *Service) checkSender(ctx context.Context, senderID, orgID string) (*orgdomain.Org, *userdomain.User, error) {
	org, err := s.d.Orgs.GetOrganizationByID(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if org == nil {
		return nil, nil, ErrOrganizationNotFound
	}
	if !org.IsActive() {
		return nil, nil, ErrOrganizationInactive
	}
	m, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, senderID, orgID)
	if err != nil {
		return nil, nil, err
	}
	sender, err := s.d.Users.GetByID(ctx, senderID)
	if err != nil {
		return nil, nil, err
	}
	if m == nil || !m.IsActive || sender == nil {
		return nil, nil, ErrNotOrgMember
	}
	allowed, err := s.d.Authorizer.Allowed(ctx, engine.CanInvite, engine.Input{
		ActorRole:     string(sender.Role),
		ActorIsMember: true,
		ActorIsAdmin:  m.IsAdmin,
		OrgCategory:   string(org.Category),
		OrgActive:     true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("authorize invite: %w", err)
	}
	if !allowed {
		return nil, nil, ErrNotOrgMember
	}
	return org, sender, nil
}

func (s *Service) checkRow(ctx context.Context, org *orgdomain.Org, in Invitee, email string) error {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return userservice.ErrNamesRequired
	}
	if !userservice.ValidEmail(email) {
		return userservice.ErrInvalidEmail
	}
	existing, err := s.d.Users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := s.checkRoleFits(ctx, org, existing.Role); err != nil {
			return err
		}
		m, err := s.d.Memberships.GetMembershipByUserAndOrg(ctx, existing.ID, org.ID)
		if err != nil {
			return err
		}
		if m != nil && m.IsActive {
			return ErrAlreadyMember
		}
	}
	if org.Kind == orgdomain.KindPE && s.d.PoleEmploiEmailSuffix != "" && !strings.HasSuffix(email, s.d.PoleEmploiEmailSuffix) {
		return ErrPoleEmploiEmail
	}
	return nil
}

// RoleMismatchError is ErrRoleMismatch with the role the organization expects.
type RoleMismatchError struct {
	Expected userdomain.Role
}

func (e *RoleMismatchError) Error() string {
	return ErrRoleMismatch.Error() + " (expected " + string(e.Expected) + ")"
}

func (e *RoleMismatchError) Is(target error) bool { return target == ErrRoleMismatch }

// checkRoleFits returns a *RoleMismatchError when role cannot join org.
func (s *Service) checkRoleFits(ctx context.Context, org *orgdomain.Org, role userdomain.Role) error {
	allowed, err := s.d.Authorizer.Allowed(ctx, engine.CanJoin, engine.Input{
		ActorRole:   string(role),
		OrgCategory: string(org.Category),
		OrgActive:   true,
	})
	if err != nil {
		return fmt.Errorf("authorize join: %w", err)
	}
	if !allowed {
		expected, _ := userdomain.RoleForCategory(org.Category)
		return &RoleMismatchError{Expected: expected}
	}
	return nil
}

func (s *Service) mailInvitation(ctx context.Context, org *orgdomain.Org, sender *userdomain.User, inv *domain.Invitation) {
	msg, err := s.d.Templates.Invitation(inv.Email, notify.InvitationData{
		FirstName:  inv.FirstName,
		LastName:   inv.LastName,
		SenderName: sender.FullName(),
		OrgName:    org.DisplayName(),
		Link:       s.d.BaseURL + AcceptPath(inv.ID),
		ExpiresAt:  inv.ExpiresAt,
	})
	if err == nil {
		err = s.d.Mailer.Send(ctx, msg)
	}
	if err != nil {
		s.d.Log.Error("send invitation email", zap.String("invitation_id", inv.ID), zap.Error(err))
	}
}
