package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
	err    error
	done   chan struct{}
}

func newRecordingEmitter(err error) *recordingEmitter {
	return &recordingEmitter{err: err, done: make(chan struct{}, 8)}
}

func (r *recordingEmitter) Emit(ctx context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

func (r *recordingEmitter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("emit did not happen")
	}
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	EmitAsync(nil, Event{Type: EventMemberJoined})
}

func TestEmitAsync_SkipsUntypedEvent(t *testing.T) {
	r := newRecordingEmitter(nil)
	EmitAsync(r, Event{})
	select {
	case <-r.done:
		t.Fatal("untyped event was emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitAsync_StampsTime(t *testing.T) {
	r := newRecordingEmitter(nil)
	EmitAsync(r, Event{Type: EventMemberJoined, OrgID: "org-1"})
	r.wait(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) != 1 || r.events[0].CreatedAt.IsZero() || r.events[0].OrgID != "org-1" {
		t.Fatalf("events = %+v", r.events)
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	r := newRecordingEmitter(errors.New("sink down"))
	EmitAsync(r, Event{Type: EventInvitationsSent})
	r.wait(t)
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.MagicLinkResult("emailed")
	m.MagicLinkResult("emailed")
	m.Signup("magic_link", true)
	m.Invitations(3)
	m.MemberRemoved()

	if got := testutil.ToFloat64(m.MagicLinks.WithLabelValues("emailed")); got != 2 {
		t.Errorf("magic links emailed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Signups.WithLabelValues("magic_link", "true")); got != 1 {
		t.Errorf("signups = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InvitationsSent); got != 3 {
		t.Errorf("invitations = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MembersRemoved); got != 1 {
		t.Errorf("removed = %v, want 1", got)
	}

	var nilMetrics *Metrics
	nilMetrics.MagicLinkResult("x")
	nilMetrics.Signup("x", false)
	nilMetrics.Invitations(1)
	nilMetrics.MemberRemoved()
}
