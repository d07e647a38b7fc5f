package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"inclusion-platform/backend/internal/audit"
	identityservice "inclusion-platform/backend/internal/identity/service"
	"inclusion-platform/backend/internal/invitation/domain"
	membershipservice "inclusion-platform/backend/internal/membership/service"
	"inclusion-platform/backend/internal/notify"
	orgdomain "inclusion-platform/backend/internal/organization/domain"
	world "inclusion-platform/backend/internal/testutil"
	userdomain "inclusion-platform/backend/internal/user/domain"
	userservice "inclusion-platform/backend/internal/user/service"
)

type fixture struct {
	w     *world.World
	svc   *Service
	org   *orgdomain.Org
	admin *userdomain.User
}

func newFixture(t *testing.T, kind orgdomain.Kind) *fixture {
	t.Helper()
	w := world.NewWorld(t)
	auth := identityservice.NewAuthService(w.Users, w.Identities, w.Sessions, w.Memberships, w.Hasher, w.Tokens, w.AuditLogger, nil)
	members := membershipservice.NewService(membershipservice.Deps{
		Orgs: w.Orgs, Memberships: w.Memberships, Users: w.Users, Invitations: w.Invitations,
		Sessions: w.Sessions, Tx: w.Tx, Authorizer: w.Authorizer, Mailer: w.Outbox,
		Templates: w.Templates, BaseURL: world.BaseURL,
	})
	svc := NewService(Deps{
		Orgs:                  w.Orgs,
		Memberships:           w.Memberships,
		Users:                 w.Users,
		Invitations:           w.Invitations,
		Registrar:             userservice.NewRegistrar(w.Users, w.Identities, w.Hasher),
		Sessions:              auth,
		Admins:                members,
		Tx:                    w.Tx,
		Authorizer:            w.Authorizer,
		Mailer:                w.Outbox,
		Templates:             w.Templates,
		Audit:                 w.AuditLogger,
		BaseURL:               world.BaseURL,
		PoleEmploiEmailSuffix: "@pole-emploi.fr",
	})
	category, err := orgdomain.CategoryOf(kind)
	if err != nil {
		t.Fatalf("CategoryOf: %v", err)
	}
	role, err := userdomain.RoleForCategory(category)
	if err != nil {
		t.Fatalf("RoleForCategory: %v", err)
	}
	org := w.AddOrg(t, "Structure "+string(kind), kind, "12345678901234", "contact@structure.fr")
	admin := w.AddUser(t, "admin@structure.fr", "Alice", "Admin", role)
	w.AddMember(t, org, admin, true)
	return &fixture{w: w, svc: svc, org: org, admin: admin}
}

func (f *fixture) sendOne(t *testing.T, email string) *domain.Invitation {
	t.Helper()
	invs, err := f.svc.SendBatch(context.Background(), f.admin.ID, f.org.ID, []Invitee{{FirstName: "Dan", LastName: "Nouveau", Email: email}})
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	f.w.Outbox.Reset()
	return invs[0]
}

func TestSendBatch_Success(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	invitees := []Invitee{
		{FirstName: "Dan", LastName: "Nouveau", Email: "dan@structure.fr"},
		{FirstName: "Eve", LastName: "Nouvelle", Email: "EVE@structure.fr"},
	}

	invs, err := f.svc.SendBatch(context.Background(), f.admin.ID, f.org.ID, invitees)
	if err != nil {
		t.Fatalf("SendBatch: %v", err)
	}
	if len(invs) != 2 || f.w.Invitations.Count() != 2 {
		t.Fatalf("invitations = %d stored %d, want 2", len(invs), f.w.Invitations.Count())
	}
	for _, inv := range invs {
		if inv.Status != domain.StatusPending {
			t.Errorf("status = %q, want pending", inv.Status)
		}
		if got := inv.ExpiresAt.Sub(inv.SentAt); got != 14*24*time.Hour {
			t.Errorf("lifetime = %v, want 14 days", got)
		}
	}
	sent := f.w.Outbox.SentOfKind(notify.KindInvitation)
	if len(sent) != 2 {
		t.Fatalf("invitation emails = %d, want 2", len(sent))
	}
	if sent[1].To[0] != "eve@structure.fr" {
		t.Errorf("second email to %v, want normalized address", sent[1].To)
	}
	if !strings.Contains(sent[0].Body, world.BaseURL+AcceptPath(invs[0].ID)) {
		t.Error("email should link to the acceptance page")
	}
	if !strings.Contains(sent[0].Body, "Alice Admin") {
		t.Error("email should name the sender")
	}
	actions := f.w.Audits.Actions()
	if len(actions) != 2 || actions[0] != audit.ActionInvitationSent {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestSendBatch_DuplicateRejectsWholeBatch(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	invitees := []Invitee{
		{FirstName: "Dan", LastName: "Nouveau", Email: "dan@structure.fr"},
		{FirstName: "Eve", LastName: "Nouvelle", Email: "eve@structure.fr"},
		{FirstName: "Dan", LastName: "Bis", Email: "DAN@structure.fr"},
	}

	_, err := f.svc.SendBatch(context.Background(), f.admin.ID, f.org.ID, invitees)
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("SendBatch err = %v, want *BatchError", err)
	}
	if !errors.Is(err, ErrDuplicateInBatch) {
		t.Errorf("err should wrap ErrDuplicateInBatch")
	}
	if batchErr.ForRow(2) != ErrDuplicateInBatch || batchErr.ForRow(0) != nil {
		t.Errorf("rows = %v", batchErr.Rows)
	}
	if n := f.w.Invitations.Count(); n != 0 {
		t.Errorf("persisted invitations = %d, want 0", n)
	}
	if n := len(f.w.Outbox.Sent()); n != 0 {
		t.Errorf("emails = %d, want 0", n)
	}
}

func TestSendBatch_RowChecks(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	member := f.w.AddUser(t, "bob@structure.fr", "Bob", "Membre", userdomain.RoleEmployer)
	f.w.AddMember(t, f.org, member, false)
	f.w.AddUser(t, "presc@ml.fr", "Paul", "Prescripteur", userdomain.RolePrescriber)

	tests := []struct {
		name string
		row  Invitee
		want error
	}{
		{"missing names", Invitee{Email: "x@structure.fr"}, userservice.ErrNamesRequired},
		{"bad email", Invitee{FirstName: "X", LastName: "Y", Email: "x-at-structure"}, userservice.ErrInvalidEmail},
		{"already member", Invitee{FirstName: "Bob", LastName: "Membre", Email: "bob@structure.fr"}, ErrAlreadyMember},
		{"wrong role", Invitee{FirstName: "Paul", LastName: "Prescripteur", Email: "presc@ml.fr"}, ErrRoleMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SendBatch(context.Background(), f.admin.ID, f.org.ID, []Invitee{tt.row})
			if !errors.Is(err, tt.want) {
				t.Fatalf("SendBatch err = %v, want %v", err, tt.want)
			}
		})
	}
	if n := f.w.Invitations.Count(); n != 0 {
		t.Errorf("persisted invitations = %d, want 0", n)
	}
}

func TestSendBatch_RoleMismatchNamesExpectedRole(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	f.w.AddUser(t, "presc@ml.fr", "Paul", "Prescripteur", userdomain.RolePrescriber)

	_, err := f.svc.SendBatch(context.Background(), f.admin.ID, f.org.ID, []Invitee{
		{FirstName: "Ok", LastName: "Row", Email: "ok@structure.fr"},
		{FirstName: "Paul", LastName: "Prescripteur", Email: "presc@ml.fr"},
	})
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("SendBatch err = %v, want *BatchError", err)
	}
	if batch.ForRow(0) != nil {
		t.Errorf("row 0 err = %v, want nil", batch.ForRow(0))
	}
	var mismatch *RoleMismatchError
	if !errors.As(batch.ForRow(1), &mismatch) || mismatch.Expected != userdomain.RoleEmployer {
		t.Fatalf("row 1 err = %v, want RoleMismatchError expecting employer", batch.ForRow(1))
	}
}

func TestSendBatch_PoleEmploiSuffix(t *testing.T) {
	f := newFixture(t, orgdomain.KindPE)
	ctx := context.Background()

	_, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, []Invitee{{FirstName: "A", LastName: "B", Email: "agent@gmail.com"}})
	if !errors.Is(err, ErrPoleEmploiEmail) {
		t.Fatalf("SendBatch err = %v, want ErrPoleEmploiEmail", err)
	}
	if _, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, []Invitee{{FirstName: "A", LastName: "B", Email: "agent@pole-emploi.fr"}}); err != nil {
		t.Fatalf("SendBatch with agency email: %v", err)
	}
}

func TestSendBatch_SizeAndSender(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()

	if _, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, nil); !errors.Is(err, ErrBatchEmpty) {
		t.Errorf("empty err = %v", err)
	}
	big := make([]Invitee, MaxBatchSize+1)
	for i := range big {
		big[i] = Invitee{FirstName: "P", LastName: "N", Email: fmt.Sprintf("p%d@structure.fr", i)}
	}
	if _, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, big); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("too large err = %v", err)
	}
	if _, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, big[:MaxBatchSize]); err != nil {
		t.Errorf("full batch: %v", err)
	}

	outsider := f.w.AddUser(t, "eve@ailleurs.fr", "Eve", "Dehors", userdomain.RoleEmployer)
	one := []Invitee{{FirstName: "A", LastName: "B", Email: "a@structure.fr"}}
	if _, err := f.svc.SendBatch(ctx, outsider.ID, f.org.ID, one); !errors.Is(err, ErrNotOrgMember) {
		t.Errorf("outsider err = %v", err)
	}
	if err := f.w.Orgs.UpdateStatus(ctx, f.org.ID, orgdomain.OrgStatusInactive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.svc.SendBatch(ctx, f.admin.ID, f.org.ID, one); !errors.Is(err, ErrOrganizationInactive) {
		t.Errorf("inactive err = %v", err)
	}
}

func TestAcceptAsNewUser(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()
	inv := f.sendOne(t, "dan@structure.fr")
	before := f.w.Org(t, f.org.ID).MembersVersion

	res, err := f.svc.AcceptAsNewUser(ctx, inv.ID, NewUserInput{
		FirstName: "Dan", LastName: "Nouveau", Password1: world.Password, Password2: world.Password,
	})
	if err != nil {
		t.Fatalf("AcceptAsNewUser: %v", err)
	}
	if res.User.Email != "dan@structure.fr" || res.User.Role != userdomain.RoleEmployer {
		t.Errorf("user = %+v", res.User)
	}
	if res.Membership.IsAdmin {
		t.Error("invited members are never admin")
	}
	if res.Session == nil {
		t.Error("acceptance should open a session")
	}
	stored, _ := f.w.Invitations.GetByID(ctx, inv.ID)
	if stored.Status != domain.StatusAccepted || stored.AcceptedAt == nil {
		t.Errorf("invitation = %+v, want accepted", stored)
	}
	if got := f.w.Org(t, f.org.ID).MembersVersion; got != before+1 {
		t.Errorf("MembersVersion = %d, want %d", got, before+1)
	}
	sent := f.w.Outbox.SentOfKind(notify.KindNewMember)
	if len(sent) != 1 || len(sent[0].To) != 1 || sent[0].To[0] != f.admin.Email {
		t.Errorf("new member emails = %+v, want one to the admin", sent)
	}

	_, err = f.svc.AcceptAsNewUser(ctx, inv.ID, NewUserInput{FirstName: "Dan", LastName: "Nouveau", Password1: world.Password, Password2: world.Password})
	if !errors.Is(err, domain.ErrInvitationAccepted) {
		t.Fatalf("second accept err = %v, want ErrInvitationAccepted", err)
	}
}

func TestAcceptAsNewUser_Refusals(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()
	form := NewUserInput{FirstName: "Dan", LastName: "Nouveau", Password1: world.Password, Password2: world.Password}

	expired := domain.NewInvitation(domain.NewInvitationInput{
		SenderID: f.admin.ID, OrgID: f.org.ID, FirstName: "Old", LastName: "Invite", Email: "old@structure.fr",
	}, "inv-expired", time.Now().Add(-15*24*time.Hour), 14*24*time.Hour)
	if err := f.w.Invitations.Create(ctx, expired); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.svc.AcceptAsNewUser(ctx, expired.ID, form); !errors.Is(err, domain.ErrInvitationExpired) {
		t.Errorf("expired err = %v", err)
	}
	if _, err := f.svc.AcceptAsNewUser(ctx, "missing", form); !errors.Is(err, ErrInvitationNotFound) {
		t.Errorf("missing err = %v", err)
	}

	inv := f.sendOne(t, "dan@structure.fr")
	if err := f.w.Orgs.UpdateStatus(ctx, f.org.ID, orgdomain.OrgStatusInactive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := f.svc.AcceptAsNewUser(ctx, inv.ID, form); !errors.Is(err, ErrOrganizationInactive) {
		t.Errorf("inactive org err = %v", err)
	}
	if n, _ := f.w.Memberships.CountActiveByOrg(ctx, f.org.ID); n != 1 {
		t.Errorf("active members = %d, want only the admin", n)
	}
}

func TestAcceptAsExistingUser(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()
	other := f.w.AddOrg(t, "EI Autre", orgdomain.KindEI, "99999999999999", "autre@ei.fr")
	dan := f.w.AddUser(t, "dan@structure.fr", "Dan", "Existant", userdomain.RoleEmployer)
	f.w.AddMember(t, other, dan, true)
	inv := f.sendOne(t, "dan@structure.fr")

	view, err := f.svc.Lookup(ctx, inv.ID)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !view.Registered {
		t.Error("Lookup should report the invitee already has an account")
	}

	intruder := f.w.AddUser(t, "eve@structure.fr", "Eve", "Intruse", userdomain.RoleEmployer)
	if _, err := f.svc.AcceptAsExistingUser(ctx, inv.ID, intruder.ID); !errors.Is(err, ErrEmailMismatch) {
		t.Fatalf("intruder err = %v, want ErrEmailMismatch", err)
	}

	res, err := f.svc.AcceptAsExistingUser(ctx, inv.ID, dan.ID)
	if err != nil {
		t.Fatalf("AcceptAsExistingUser: %v", err)
	}
	if res.Membership.IsAdmin || !res.Membership.IsActive {
		t.Errorf("membership = %+v", res.Membership)
	}
	if res.Session == nil || res.Session.OrgID != f.org.ID {
		t.Errorf("session should be opened in the joined organization")
	}
}

func TestAcceptAsExistingUser_ReactivatesRemovedMember(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()
	dan := f.w.AddUser(t, "dan@structure.fr", "Dan", "Revenant", userdomain.RoleEmployer)
	f.w.AddMember(t, f.org, dan, false)
	if err := f.w.Memberships.SetActive(ctx, dan.ID, f.org.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	inv := f.sendOne(t, "dan@structure.fr")

	if _, err := f.svc.AcceptAsExistingUser(ctx, inv.ID, dan.ID); err != nil {
		t.Fatalf("AcceptAsExistingUser: %v", err)
	}
	m, _ := f.w.Memberships.GetMembershipByUserAndOrg(ctx, dan.ID, f.org.ID)
	if m == nil || !m.IsActive {
		t.Fatalf("membership = %+v, want reactivated", m)
	}
}

func TestAcceptAsExistingUser_RemovedAdminComesBackAsMember(t *testing.T) {
	f := newFixture(t, orgdomain.KindACI)
	ctx := context.Background()
	member := f.w.AddUser(t, "bob@structure.fr", "Bob", "Membre", userdomain.RoleEmployer)
	f.w.AddMember(t, f.org, member, false)
	former := f.w.AddUser(t, "ex@structure.fr", "Xavier", "Ancien", userdomain.RoleEmployer)
	f.w.AddMember(t, f.org, former, true)
	if err := f.w.Memberships.SetActive(ctx, former.ID, f.org.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	invs, err := f.svc.SendBatch(ctx, member.ID, f.org.ID, []Invitee{{FirstName: "Xavier", LastName: "Ancien", Email: former.Email}})
	if err != nil {
		t.Fatalf("SendBatch by a non-admin member: %v", err)
	}
	res, err := f.svc.AcceptAsExistingUser(ctx, invs[0].ID, former.ID)
	if err != nil {
		t.Fatalf("AcceptAsExistingUser: %v", err)
	}
	if res.Membership.IsAdmin {
		t.Error("returned membership should not be admin")
	}
	m, _ := f.w.Memberships.GetMembershipByUserAndOrg(ctx, former.ID, f.org.ID)
	if m == nil || !m.IsActive || m.IsAdmin {
		t.Fatalf("stored membership = %+v, want active non-admin", m)
	}
}
