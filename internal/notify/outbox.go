package notify

import (
	"context"
	"sync"
)

// Outbox is an in-memory Mailer that keeps every message. Used in development and tests.
type Outbox struct {
	mu   sync.RWMutex
	from string
	sent []Message
}

// NewOutbox returns an empty outbox stamping from on messages without a sender.
func NewOutbox(from string) *Outbox {
	return &Outbox{from: from}
}

// Send records msg.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	msg = withFrom(msg, o.from)
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.To = append([]string(nil), msg.To...)
	o.mu.Lock()
	o.sent = append(o.sent, msg)
	o.mu.Unlock()
	return nil
}

// Sent returns a copy of the recorded messages in send order.
func (o *Outbox) Sent() []Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Message(nil), o.sent...)
}

// SentOfKind returns the recorded messages of one kind.
func (o *Outbox) SentOfKind(kind string) []Message {
	var out []Message
	for _, m := range o.Sent() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Reset drops all recorded messages.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.sent = nil
	o.mu.Unlock()
}
