package db

import (
	"context"
	"sync"
)

type memTxKey struct{}

// MemoryTxManager serializes RunInTx calls with a mutex. It pairs with the in-memory repositories,
// which have no rollback: callers validate before they write.
type MemoryTxManager struct {
	mu sync.Mutex
}

// NewMemoryTxManager returns a MemoryTxManager.
func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

// RunInTx runs fn while holding the manager lock. Nested calls reuse the held lock.
func (m *MemoryTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == m {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, memTxKey{}, m))
}
