// Package testutil wires the in-memory repositories and fakes the services are tested against.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"inclusion-platform/backend/internal/audit"
	auditrepo "inclusion-platform/backend/internal/audit/repository"
	"inclusion-platform/backend/internal/db"
	identitydomain "inclusion-platform/backend/internal/identity/domain"
	identityrepo "inclusion-platform/backend/internal/identity/repository"
	invitationrepo "inclusion-platform/backend/internal/invitation/repository"
	membershipdomain "inclusion-platform/backend/internal/membership/domain"
	membershiprepo "inclusion-platform/backend/internal/membership/repository"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	orgrepo "inclusion-platform/backend/internal/organization/repository"
	"inclusion-platform/backend/internal/policy/engine"
	"inclusion-platform/backend/internal/security"
	sessionrepo "inclusion-platform/backend/internal/session/repository"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userrepo "inclusion-platform/backend/internal/user/repository"
)

// Password satisfies the password policy for any test email.
const Password = "Correct-Horse-42"

// BaseURL is the public origin used by test services.
const BaseURL = "https://emplois.test"

// World is a complete in-memory backend.
type World struct {
	Orgs        *orgrepo.MemoryRepository
	Memberships *membershiprepo.MemoryRepository
	Users       *userrepo.MemoryRepository
	Identities  *identityrepo.MemoryRepository
	Sessions    *sessionrepo.MemoryRepository
	Invitations *invitationrepo.MemoryRepository
	Audits      *auditrepo.MemoryRepository
	Tx          *db.MemoryTxManager
	Tokens      *security.TokenProvider
	Hasher      *security.Hasher
	Authorizer  *engine.OPAAuthorizer
	Outbox      *notify.Outbox
	Templates   *notify.Templates
	AuditLogger *audit.Logger
}

// NewWorld builds an empty World. bcrypt runs at its minimum cost.
func NewWorld(t testing.TB) *World {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	authz, err := engine.NewOPAAuthorizer(context.Background())
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	w := &World{
		Orgs:        orgrepo.NewMemoryRepository(),
		Memberships: membershiprepo.NewMemoryRepository(),
		Users:       userrepo.NewMemoryRepository(),
		Identities:  identityrepo.NewMemoryRepository(),
		Sessions:    sessionrepo.NewMemoryRepository(),
		Invitations: invitationrepo.NewMemoryRepository(),
		Audits:      auditrepo.NewMemoryRepository(),
		Tx:          db.NewMemoryTxManager(),
		Tokens:      tokens,
		Hasher:      security.NewHasher(4),
		Authorizer:  authz,
		Outbox:      notify.NewOutbox("noreply@emplois.test"),
		Templates:   notify.MustLoadTemplates(),
	}
	w.AuditLogger = audit.NewLogger(w.Audits, nil, nil)
	return w
}

// AddOrg stores an active organization of kind with the given siret and auth email.
func (w *World) AddOrg(t testing.TB, name string, kind orgdomain.Kind, siret, authEmail string) *orgdomain.Org {
	t.Helper()
	now := time.Now().UTC()
	o := &orgdomain.Org{
		ID:        uuid.New().String(),
		Name:      name,
		Kind:      kind,
		Siret:     siret,
		AuthEmail: authEmail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("org Validate: %v", err)
	}
	if err := w.Orgs.CreateOrganization(context.Background(), o); err != nil {
		t.Fatalf("CreateOrganization: %v", err)
	}
	return o
}

// AddUser stores an active user with a local identity using Password.
func (w *World) AddUser(t testing.TB, email, first, last string, role userdomain.Role) *userdomain.User {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	u := &userdomain.User{
		ID: uuid.New().String(), Email: email, FirstName: first, LastName: last,
		Role: role, Status: userdomain.UserStatusActive, CreatedAt: now, UpdatedAt: now,
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("user Validate: %v", err)
	}
	if err := w.Users.Create(ctx, u); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	hash, err := w.Hasher.Hash(Password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ident := &identitydomain.Identity{
		ID: uuid.New().String(), UserID: u.ID, Provider: identitydomain.IdentityProviderLocal,
		ProviderID: u.Email, PasswordHash: hash, CreatedAt: now,
	}
	if err := w.Identities.Create(ctx, ident); err != nil {
		t.Fatalf("Create identity: %v", err)
	}
	return u
}

// AddMember makes u an active member of org and bumps the organization's members version.
func (w *World) AddMember(t testing.TB, org *orgdomain.Org, u *userdomain.User, admin bool) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	m := &membershipdomain.Membership{
		ID: uuid.New().String(), UserID: u.ID, OrgID: org.ID,
		IsAdmin: admin, IsActive: true, JoinedAt: now, UpdatedAt: now,
	}
	if err := w.Memberships.CreateMembership(ctx, m); err != nil {
		t.Fatalf("CreateMembership: %v", err)
	}
	if _, err := w.Orgs.BumpMembersVersion(ctx, org.ID); err != nil {
		t.Fatalf("BumpMembersVersion: %v", err)
	}
}

// Org reloads an organization.
func (w *World) Org(t testing.TB, id string) *orgdomain.Org {
	t.Helper()
	o, err := w.Orgs.GetOrganizationByID(context.Background(), id)
	if err != nil || o == nil {
		t.Fatalf("GetOrganizationByID(%s): %v", id, err)
	}
	return o
}
