package otel

import (
	"context"
	"sort"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"inclusion-platform/backend/internal/telemetry"
)

const instrumentationName = "inclusion.events"

// recordEmitter is the subset of otellog.Logger the adapter needs.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter writing OTel log records through provider.
// A nil provider yields a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &logEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger wraps any record emitter, e.g. a test capture.
func NewEventEmitterWithLogger(l recordEmitter) telemetry.EventEmitter {
	return &logEmitter{logger: l}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, telemetry.Event) error { return nil }

type logEmitter struct {
	logger recordEmitter
}

// Emit maps the event onto one log record: the type is the body, ids and attrs become attributes.
func (e *logEmitter) Emit(ctx context.Context, event telemetry.Event) error {
	var rec otellog.Record
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetEventName(event.Type)
	rec.SetBody(otellog.StringValue(event.Type))

	addIfSet := func(key, value string) {
		if value != "" {
			rec.AddAttributes(otellog.String(key, value))
		}
	}
	addIfSet("event_type", event.Type)
	addIfSet("org_id", event.OrgID)
	addIfSet("user_id", event.UserID)
	addIfSet("session_id", event.SessionID)
	addIfSet("source", event.Source)

	keys := make([]string, 0, len(event.Attrs))
	for k := range event.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		addIfSet("attr."+k, event.Attrs[k])
	}
	e.logger.Emit(ctx, rec)
	return nil
}
