// Package telemetry carries domain events (signups, invitations, removals) to an event sink and
// exposes the Prometheus metrics of the HTTP server.
package telemetry

import (
	"context"
	"time"
)

// Event types emitted by the services.
const (
	EventMagicLinkIssued    = "magic_link_issued"
	EventMemberJoined       = "member_joined"
	EventInvitationsSent    = "invitations_sent"
	EventInvitationAccepted = "invitation_accepted"
	EventMemberRemoved      = "member_removed"
	EventHTTPRequest        = "http_request"
)

// Event is one domain event. Attrs carries small string facts (delivery mode, counts).
type Event struct {
	Type      string
	OrgID     string
	UserID    string
	SessionID string
	Source    string
	Attrs     map[string]string
	CreatedAt time.Time
}

// EventEmitter emits events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}
