package domain

import (
	"errors"
	"strings"
	"time"
)

// Status is the lifecycle state of an invitation. Expiry is derived from ExpiresAt, not stored.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
)

var (
	ErrInvitationAccepted = errors.New("invitation already accepted")
	ErrInvitationExpired  = errors.New("invitation expired")
)

// Invitation asks someone (by name and email) to join an organization on behalf of a member.
type Invitation struct {
	ID         string
	SenderID   string
	OrgID      string
	FirstName  string
	LastName   string
	Email      string
	Status     Status
	SentAt     time.Time
	ExpiresAt  time.Time
	AcceptedAt *time.Time
}

// NewInvitationInput describes one invited person.
type NewInvitationInput struct {
	SenderID  string
	OrgID     string
	FirstName string
	LastName  string
	Email     string
}

// NewInvitation builds a pending invitation that expires ttl after now.
func NewInvitation(in NewInvitationInput, id string, now time.Time, ttl time.Duration) *Invitation {
	sent := now.UTC()
	return &Invitation{
		ID:        id,
		SenderID:  in.SenderID,
		OrgID:     in.OrgID,
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Status:    StatusPending,
		SentAt:    sent,
		ExpiresAt: sent.Add(ttl),
	}
}

// IsExpired reports whether the acceptance window has closed at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// CheckAcceptable returns why the invitation cannot be accepted at now, or nil.
func (i *Invitation) CheckAcceptable(now time.Time) error {
	if i.Status == StatusAccepted {
		return ErrInvitationAccepted
	}
	if i.IsExpired(now) {
		return ErrInvitationExpired
	}
	return nil
}

// Accept transitions a pending invitation to accepted.
func (i *Invitation) Accept(now time.Time) error {
	if err := i.CheckAcceptable(now); err != nil {
		return err
	}
	t := now.UTC()
	i.Status = StatusAccepted
	i.AcceptedAt = &t
	return nil
}

// FullName is "First Last".
func (i *Invitation) FullName() string {
	return strings.TrimSpace(i.FirstName + " " + i.LastName)
}

// Validate validates the invitation for persistence.
func (i *Invitation) Validate() error {
	if i.SenderID == "" || i.OrgID == "" {
		return errors.New("sender_id and org_id are required")
	}
	if i.FirstName == "" || i.LastName == "" {
		return errors.New("first name and last name are required")
	}
	if i.Email == "" {
		return errors.New("email is required")
	}
	if !i.ExpiresAt.After(i.SentAt) {
		return errors.New("expires_at must be after sent_at")
	}
	return nil
}
