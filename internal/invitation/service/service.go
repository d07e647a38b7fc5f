// Package service sends invitation batches and turns accepted invitations into memberships.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	identityservice "inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/invitation/domain"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Sentinel errors; the HTTP layer maps them to form errors.
var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationInactive = errors.New("organization is inactive")
	ErrNotOrgMember         = errors.New("sender is not a member of the organization")
	ErrBatchEmpty           = errors.New("at least one invitation is required")
	ErrBatchTooLarge        = errors.New("too many invitations in one batch")
	ErrRoleMismatch         = errors.New("registered user has a role incompatible with the organization")
	ErrAlreadyMember        = errors.New("user is already a member of the organization")
	ErrPoleEmploiEmail      = errors.New("email must be a Pôle emploi address")
	ErrDuplicateInBatch     = errors.New("invitations must have different emails")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrEmailMismatch        = errors.New("invitation was sent to another email")
)

// MaxBatchSize bounds the rows of one invitation batch.
const MaxBatchSize = 30

// OrgRepo is the minimal organization repository needed by the invitation service.
type OrgRepo interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
	GetOrganizationForUpdate(ctx context.Context, id string) (*orgdomain.Org, error)
	BumpMembersVersion(ctx context.Context, id string) (int64, error)
}

// MembershipRepo is the minimal membership repository needed by the invitation service.
type MembershipRepo interface {
	GetMembershipByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	CreateMembership(ctx context.Context, m *membershipdomain.Membership) error
	SetActive(ctx context.Context, userID, orgID string, active bool) error
}

// UserRepo is the minimal user repository needed by the invitation service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// InvitationRepo is the minimal invitation repository needed by the invitation service.
type InvitationRepo interface {
	GetByID(ctx context.Context, id string) (*domain.Invitation, error)
	GetForUpdate(ctx context.Context, id string) (*domain.Invitation, error)
	Create(ctx context.Context, inv *domain.Invitation) error
	MarkAccepted(ctx context.Context, id string, at time.Time) error
}

// Registrar checks signup forms and stores the user with its identity.
type Registrar interface {
	Prepare(f userservice.SignupForm, role userdomain.Role) (*userservice.Account, error)
	Create(ctx context.Context, a *userservice.Account) (*userdomain.User, error)
}

// SessionStarter logs the new member in, in the organization they joined.
type SessionStarter interface {
	StartSession(ctx context.Context, userID, orgID string) (*identityservice.AuthResult, error)
}

// AdminNotifier tells an organization's admins who just joined.
type AdminNotifier interface {
	NotifyNewMember(ctx context.Context, org *orgdomain.Org, newcomer *userdomain.User)
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
	Registrar   Registrar
	Sessions    SessionStarter
	Admins      AdminNotifier
	Tx          TxRunner
	Authorizer  engine.Authorizer
	Mailer      notify.Mailer
	Templates   *notify.Templates
	Audit       audit.AuditLogger
	Emitter     telemetry.EventEmitter
	Metrics     *telemetry.Metrics
	Log         *zap.Logger
	// BaseURL prefixes the acceptance link in invitation emails.
	BaseURL string
	// TTL is how long an invitation can be accepted.
	TTL time.Duration
	// PoleEmploiEmailSuffix is required of emails invited to a PE agency, e.g. "@pole-emploi.fr".
	PoleEmploiEmailSuffix string
}

// Service implements invitation batches and their acceptance.
type Service struct {
	d   Deps
	now func() time.Time
}

// NewService returns a Service over d. A zero TTL means 14 days.
func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.TTL <= 0 {
		d.TTL = 14 * 24 * time.Hour
	}
	return &Service{d: d, now: func() time.Time { return time.Now().UTC() }}
}

// AcceptPath is the page an invitation email links to.
func AcceptPath(invitationID string) string {
	return "/invitations/" + invitationID
}
