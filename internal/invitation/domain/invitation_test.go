package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewInvitation_NormalizesAndExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := NewInvitation(NewInvitationInput{
		SenderID: "u1", OrgID: "o1", FirstName: " Marie ", LastName: "Curie", Email: " Marie.Curie@Example.ORG ",
	}, "i1", now, 14*24*time.Hour)

	if inv.Email != "marie.curie@example.org" {
		t.Errorf("Email = %q", inv.Email)
	}
	if inv.FirstName != "Marie" {
		t.Errorf("FirstName = %q", inv.FirstName)
	}
	if inv.Status != StatusPending {
		t.Errorf("Status = %q, want pending", inv.Status)
	}
	if want := now.Add(14 * 24 * time.Hour); !inv.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", inv.ExpiresAt, want)
	}
	if err := inv.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestInvitation_AcceptLifecycle(t *testing.T) {
	now := time.Now().UTC()
	inv := NewInvitation(NewInvitationInput{SenderID: "u1", OrgID: "o1", FirstName: "a", LastName: "b", Email: "a@b.fr"}, "i1", now, time.Hour)

	if err := inv.Accept(now.Add(time.Minute)); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if inv.Status != StatusAccepted || inv.AcceptedAt == nil {
		t.Fatalf("after Accept: status=%q acceptedAt=%v", inv.Status, inv.AcceptedAt)
	}
	if err := inv.Accept(now.Add(2 * time.Minute)); !errors.Is(err, ErrInvitationAccepted) {
		t.Errorf("second Accept err = %v, want ErrInvitationAccepted", err)
	}

	expired := NewInvitation(NewInvitationInput{SenderID: "u1", OrgID: "o1", FirstName: "a", LastName: "b", Email: "c@b.fr"}, "i2", now, time.Hour)
	if err := expired.Accept(now.Add(time.Hour)); !errors.Is(err, ErrInvitationExpired) {
		t.Errorf("Accept at expiry err = %v, want ErrInvitationExpired", err)
	}
	if expired.Status != StatusPending {
		t.Error("failed Accept must not change status")
	}
}
