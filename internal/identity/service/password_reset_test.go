package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"inclusion-platform/backend/internal/audit"
	"inclusion-platform/backend/internal/notify"
	"inclusion-platform/backend/internal/security"
	userservice "inclusion-platform/backend/internal/user/service"
)

var resetTokenRe = regexp.MustCompile(`/password/reset/key/([A-Za-z0-9._-]+)`)

type resetFixture struct {
	*authFixture
	reset  *PasswordResetService
	outbox *notify.Outbox
}

func newResetFixture(t *testing.T) *resetFixture {
	t.Helper()
	f := newAuthFixture(t)
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	outbox := notify.NewOutbox("noreply@inclusion.test")
	reset := NewPasswordResetService(PasswordResetDeps{
		Users:      f.users,
		Identities: f.identities,
		Sessions:   f.sessions,
		Hasher:     security.NewHasher(4),
		Tokens:     tokens,
		Mailer:     outbox,
		Templates:  notify.MustLoadTemplates(),
		Audit:      audit.NewLogger(f.audits, nil, nil),
		BaseURL:    "https://emplois.test",
	})
	return &resetFixture{authFixture: f, reset: reset, outbox: outbox}
}

func (f *resetFixture) mailedToken(t *testing.T) string {
	t.Helper()
	sent := f.outbox.SentOfKind(notify.KindPasswordReset)
	if len(sent) == 0 {
		t.Fatal("no password reset email sent")
	}
	m := resetTokenRe.FindStringSubmatch(sent[len(sent)-1].Body)
	if m == nil {
		t.Fatalf("no reset link in %q", sent[len(sent)-1].Body)
	}
	return m[1]
}

func TestPasswordReset_FullFlow(t *testing.T) {
	f := newResetFixture(t)
	ctx := context.Background()
	f.addUser(t, "u1", "jeanne@siae.fr", "org-1")
	old, err := f.svc.Login(ctx, "jeanne@siae.fr", testPassword, "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.reset.RequestReset(ctx, "JEANNE@siae.fr"); err != nil {
		t.Fatalf("RequestReset: %v", err)
	}
	token := f.mailedToken(t)
	if u, err := f.reset.CheckLink(ctx, token); err != nil || u.ID != "u1" {
		t.Fatalf("CheckLink = (%v, %v)", u, err)
	}

	if _, err := f.reset.ResetPassword(ctx, token, "Nouveau-Secret-77", "Autre-Secret-77"); !errors.Is(err, userservice.ErrPasswordMismatch) {
		t.Fatalf("mismatch: got %v", err)
	}
	if _, err := f.reset.ResetPassword(ctx, token, "123456789012345", "123456789012345"); !errors.Is(err, security.ErrPasswordNumeric) {
		t.Fatalf("numeric: got %v", err)
	}
	if _, err := f.reset.ResetPassword(ctx, token, "Nouveau-Secret-77", "Nouveau-Secret-77"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := f.svc.Login(ctx, "jeanne@siae.fr", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password still works: %v", err)
	}
	if _, err := f.svc.Login(ctx, "jeanne@siae.fr", "Nouveau-Secret-77", ""); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, old.AccessToken); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("session opened before the reset survived: %v", err)
	}
	if _, err := f.reset.ResetPassword(ctx, token, "Encore-Autre-88", "Encore-Autre-88"); !errors.Is(err, ErrInvalidResetLink) {
		t.Errorf("second use of the link: want ErrInvalidResetLink, got %v", err)
	}
	resets := 0
	for _, a := range f.audits.Actions() {
		if a == audit.ActionPasswordReset {
			resets++
		}
	}
	if resets != 1 {
		t.Errorf("password_reset audit entries = %d, want 1", resets)
	}
}

func TestPasswordReset_UnknownEmailSendsNothing(t *testing.T) {
	f := newResetFixture(t)
	for _, email := range []string{"", "nobody@siae.fr"} {
		if err := f.reset.RequestReset(context.Background(), email); err != nil {
			t.Errorf("RequestReset(%q) = %v, want nil", email, err)
		}
	}
	if sent := f.outbox.Sent(); len(sent) != 0 {
		t.Errorf("sent %d emails, want none", len(sent))
	}
}

func TestPasswordReset_RejectsForeignTokens(t *testing.T) {
	f := newResetFixture(t)
	f.addUser(t, "u1", "jeanne@siae.fr")
	for _, tok := range []string{"", "x.y.z"} {
		if _, err := f.reset.CheckLink(context.Background(), tok); !errors.Is(err, ErrInvalidResetLink) {
			t.Errorf("CheckLink(%q): want ErrInvalidResetLink, got %v", tok, err)
		}
	}
}
