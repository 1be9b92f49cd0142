// Package memory is the default, non-durable Persister implementation:
// an in-memory stand-in for the append-only log, used outside of a
// postgres-backed deployment and in every queue-core test.
package memory

import (
	"context"
	"sync"

	"github.com/amq-core/brokerqueue/internal/persister"
)

// WAL records committed work in memory, keyed by insertion order, purely
// for test assertions and local development; it has no actual durability.
type WAL struct {
	mu        sync.Mutex
	committed []persister.WorkItem
	pending   map[persister.TxnKey][]persister.WorkItem
}

var _ persister.Persister = (*WAL)(nil)

func New() *WAL {
	return &WAL{pending: make(map[persister.TxnKey][]persister.WorkItem)}
}

func (w *WAL) DirtyWork(_ context.Context, items []persister.WorkItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = append(w.committed, items...)
	return nil
}

func (w *WAL) ExtendTransaction(_ context.Context, key persister.TxnKey, items []persister.WorkItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[key] = append(w.pending[key], items...)
	return nil
}

func (w *WAL) CommitTransaction(_ context.Context, key persister.TxnKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.committed = append(w.committed, w.pending[key]...)
	delete(w.pending, key)
	return nil
}

func (w *WAL) RollbackTransaction(_ context.Context, key persister.TxnKey) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, key)
	return nil
}

// Committed returns a snapshot of everything committed so far, for test
// assertions.
func (w *WAL) Committed() []persister.WorkItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]persister.WorkItem, len(w.committed))
	copy(out, w.committed)
	return out
}
