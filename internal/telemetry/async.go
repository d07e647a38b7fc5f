package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// emitTimeout bounds one async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long the server waits after HTTP shutdown before closing the
// OTel providers, so in-flight async emits can finish. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync emits event in a goroutine on a detached context, so request cancellation does not
// abort it. A nil emitter is a no-op. Failures are logged.
func EmitAsync(emitter EventEmitter, event Event) {
	if emitter == nil || event.Type == "" {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			zap.L().Warn("telemetry emit failed", zap.String("event", event.Type), zap.Error(err))
		}
	}()
}
