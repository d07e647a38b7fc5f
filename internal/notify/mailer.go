// Package notify renders and delivers outbound emails: signup magic links, invitations and
// membership notices and password resets. Delivery goes through a Mailer (SMTP, HTTP API, Kafka outbox or memory).
package notify

import (
	"context"
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrNoRecipients = errors.New("notify: message has no recipients")
	ErrNoSubject    = errors.New("notify: message has no subject")
)

// Kinds of message, carried through the outbox so the worker and tests can tell them apart.
const (
	KindMagicLink     = "magic_link"
	KindNewMember     = "new_member"
	KindInvitation    = "invitation"
	KindMemberRemoved = "member_removed"
	KindPasswordReset = "password_reset"
)

// Message is one outbound email.
type Message struct {
	Kind    string   `json:"kind"`
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Validate checks the message has recipients with valid addresses and a subject.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	for _, to := range m.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return err
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return ErrNoSubject
	}
	return nil
}

// Mailer delivers a message. Implementations fill From with their default when empty.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

func withFrom(msg Message, from string) Message {
	if msg.From == "" {
		msg.From = from
	}
	return msg
}
