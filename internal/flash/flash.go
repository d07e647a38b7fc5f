// Package flash stores one-shot user messages across a redirect ("Post/Redirect/Get").
// Messages are keyed by an opaque per-browser id kept in a cookie and removed when read.
package flash

import (
	"context"
	"sync"
	"time"
)

// Level is the severity used to style a message.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultTTL bounds how long an unread message survives.
const DefaultTTL = 10 * time.Minute

// Message is one flash message.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// Store persists flash messages between requests.
type Store interface {
	// Add appends a message for key.
	Add(ctx context.Context, key string, msg Message) error
	// Pop returns and deletes every message for key in insertion order.
	Pop(ctx context.Context, key string) ([]Message, error)
}

type memoryEntry struct {
	msgs      []Message
	expiresAt time.Time
}

// MemoryStore is a process-local Store, used when Redis is not configured and in tests.
type MemoryStore struct {
	mu   sync.Mutex
	m    map[string]*memoryEntry
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryStore returns an empty in-memory store. ttl <= 0 means DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{m: make(map[string]*memoryEntry), ttl: ttl, nowF: time.Now}
}

// Add appends msg and refreshes the key's expiry.
func (s *MemoryStore) Add(_ context.Context, key string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowF()
	e, ok := s.m[key]
	if !ok || !e.expiresAt.After(now) {
		e = &memoryEntry{}
		s.m[key] = e
	}
	e.msgs = append(e.msgs, msg)
	e.expiresAt = now.Add(s.ttl)
	return nil
}

// Pop returns and removes the messages for key. Expired entries read as empty.
func (s *MemoryStore) Pop(_ context.Context, key string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return nil, nil
	}
	delete(s.m, key)
	if !e.expiresAt.After(s.nowF()) {
		return nil, nil
	}
	return e.msgs, nil
}
