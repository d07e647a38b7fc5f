// Package service matches a newcomer to an organization, issues the signup magic link and
// finalizes the signup it leads to.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"inclusion-platform/backend/internal/audit"
	identityservice "inclusion-platform/backend/internal/identity/service"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/security"
	"inclusion-platform/backend/internal/telemetry"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

// Sentinel errors; the HTTP layer maps each to its French form message.
var (
	ErrMissingIdentifyingField = errors.New("email or siret required")
	ErrAmbiguousMatch          = errors.New("email shared by several organizations")
	ErrNotFound                = errors.New("unknown siret or email")
	ErrOrganizationInactive    = errors.New("organization is inactive")
	ErrExpiredOrInvalidLink    = errors.New("signup link is invalid or expired")
	ErrJoinNotAllowed          = errors.New("role cannot join this organization")
	ErrUnknownSecretCode       = errors.New("unknown organization secret code")
	ErrSecretCodeNoMembers     = errors.New("organization has no member yet; its first member signs up through the magic link")
)

// OrgRepo is the minimal organization repository needed by the signup service.
type OrgRepo interface {
	GetOrganizationByID(ctx context.Context, id string) (*orgdomain.Org, error)
	GetOrganizationForUpdate(ctx context.Context, id string) (*orgdomain.Org, error)
	ListBySiretAndKind(ctx context.Context, siret string, kind orgdomain.Kind) ([]*orgdomain.Org, error)
	ListByAuthEmailAndKind(ctx context.Context, email string, kind orgdomain.Kind) ([]*orgdomain.Org, error)
	GetBySecretCode(ctx context.Context, code string) (*orgdomain.Org, error)
	BumpMembersVersion(ctx context.Context, id string) (int64, error)
}

// MembershipRepo is the minimal membership repository needed by the signup service.
type MembershipRepo interface {
	CountActiveByOrg(ctx context.Context, orgID string) (int64, error)
	CreateMembership(ctx context.Context, m *membershipdomain.Membership) error
}

// Registrar checks signup forms and stores the user with its identity.
type Registrar interface {
	Prepare(f userservice.SignupForm, role userdomain.Role) (*userservice.Account, error)
	Create(ctx context.Context, a *userservice.Account) (*userdomain.User, error)
}

// SessionStarter logs the new member in.
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
	Registrar   Registrar
	Sessions    SessionStarter
	Admins      AdminNotifier
	Tx          TxRunner
	Tokens      *security.TokenProvider
	Authorizer  engine.Authorizer
	Mailer      notify.Mailer
	Templates   *notify.Templates
	Audit       audit.AuditLogger
	Emitter     telemetry.EventEmitter
	Metrics     *telemetry.Metrics
	Log         *zap.Logger
	// BaseURL prefixes the magic link mailed to an organization.
	BaseURL string
}

// Service implements organization selection, magic link opening, signup finalization and
// prescriber signup with an organization secret code.
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
