package notify

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MagicLinkData fills the magic link email sent to an organization's authentication address.
type MagicLinkData struct {
	OrgName   string
	OrgKind   string
	Siret     string
	Link      string
	ExpiresAt time.Time
}

// NewMemberData fills the notice sent to admins when someone joins.
type NewMemberData struct {
	FirstName  string
	LastName   string
	Email      string
	OrgName    string
	OrgKind    string
	Siret      string
	MembersURL string
}

// InvitationData fills the invitation email.
type InvitationData struct {
	FirstName  string
	LastName   string
	SenderName string
	OrgName    string
	Link       string
	ExpiresAt  time.Time
}

// MemberRemovedData fills the notice sent to a removed member.
type MemberRemovedData struct {
	FirstName string
	LastName  string
	OrgName   string
}

// PasswordResetData fills the password reset email.
type PasswordResetData struct {
	FirstName string
	Link      string
	ExpiresAt time.Time
}

// Templates renders the embedded email templates into Messages.
type Templates struct {
	byKind map[string]*template.Template
}

// LoadTemplates parses the embedded templates. It fails only on a broken build.
func LoadTemplates() (*Templates, error) {
	t := &Templates{byKind: make(map[string]*template.Template)}
	for _, kind := range []string{KindMagicLink, KindNewMember, KindInvitation, KindMemberRemoved, KindPasswordReset} {
		tmpl, err := template.ParseFS(templateFS, "templates/"+kind+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		t.byKind[kind] = tmpl.Option("missingkey=error")
	}
	return t, nil
}

// MustLoadTemplates is LoadTemplates for package-level wiring and tests.
func MustLoadTemplates() *Templates {
	t, err := LoadTemplates()
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Templates) render(kind string, to []string, data any) (Message, error) {
	tmpl, ok := t.byKind[kind]
	if !ok {
		return Message{}, fmt.Errorf("notify: no template for %q", kind)
	}
	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return Message{}, err
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return Message{}, err
	}
	return Message{
		Kind:    kind,
		To:      to,
		Subject: strings.TrimSpace(subject.String()),
		Body:    body.String(),
	}, nil
}

// MagicLink renders the signup link email for the organization's authentication address.
func (t *Templates) MagicLink(to string, d MagicLinkData) (Message, error) {
	return t.render(KindMagicLink, []string{to}, d)
}

// NewMember renders one notice addressed to all admins.
func (t *Templates) NewMember(admins []string, d NewMemberData) (Message, error) {
	return t.render(KindNewMember, admins, d)
}

// Invitation renders the invitation email for one invitee.
func (t *Templates) Invitation(to string, d InvitationData) (Message, error) {
	return t.render(KindInvitation, []string{to}, d)
}

// MemberRemoved renders the notice sent to a removed member.
func (t *Templates) MemberRemoved(to string, d MemberRemovedData) (Message, error) {
	return t.render(KindMemberRemoved, []string{to}, d)
}

// PasswordReset renders the reset link email.
func (t *Templates) PasswordReset(to string, d PasswordResetData) (Message, error) {
	return t.render(KindPasswordReset, []string{to}, d)
}
