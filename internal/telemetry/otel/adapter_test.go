package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"inclusion-platform/backend/internal/telemetry"
)

type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(_ context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func attrsOf(rec otellog.Record) map[string]string {
	out := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value.AsString()
		return true
	})
	return out
}

func TestNewEventEmitter_NilProviderIsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if err := em.Emit(context.Background(), telemetry.Event{Type: telemetry.EventMemberJoined}); err != nil {
		t.Fatalf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	if err := NewEventEmitter(provider).Emit(context.Background(), telemetry.Event{Type: "x"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}

func TestEmit_MapsEventToRecord(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	err := em.Emit(context.Background(), telemetry.Event{
		Type:      telemetry.EventMemberJoined,
		OrgID:     "org-1",
		UserID:    "user-1",
		Source:    "signup",
		Attrs:     map[string]string{"admin": "true", "channel": "magic_link", "empty": ""},
		CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(capture.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(capture.recs))
	}
	rec := capture.recs[0]
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	if rec.EventName() != telemetry.EventMemberJoined {
		t.Errorf("event name = %q", rec.EventName())
	}
	attrs := attrsOf(rec)
	want := map[string]string{
		"event_type": telemetry.EventMemberJoined, "org_id": "org-1", "user_id": "user-1",
		"source": "signup", "attr.admin": "true", "attr.channel": "magic_link",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	for _, absent := range []string{"session_id", "attr.empty"} {
		if _, ok := attrs[absent]; ok {
			t.Errorf("attr %q should not be set", absent)
		}
	}
}

func TestEmit_ZeroTimeUsesNow(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	before := time.Now().UTC()
	_ = em.Emit(context.Background(), telemetry.Event{Type: "x"})
	ts := capture.recs[0].Timestamp()
	if ts.Before(before) || ts.After(time.Now().UTC()) {
		t.Errorf("timestamp %v not within call window", ts)
	}
}
