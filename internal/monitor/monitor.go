// Package monitor implements the liveness-subscription primitive the
// broker uses for death detection: one token per watched counterparty,
// released when the relationship ends.
//
// It has no notion of channels, connections, or queues — it is a generic
// death-notification registry any counterparty can use.
package monitor

import (
	"sync"
	"sync/atomic"

	"github.com/amq-core/brokerqueue/internal/domain"
)

// Monitor hands out LivenessTokens and fires a callback exactly once when
// the watched party is declared dead.
type Monitor struct {
	mu       sync.Mutex
	next     uint64
	watchers map[domain.LivenessToken]func()
}

// New returns an empty Monitor.
func New() *Monitor {
	return &Monitor{watchers: make(map[domain.LivenessToken]func())}
}

// Watch registers onDeath to be invoked the first time Notify is called
// for the returned token. onDeath runs on the Notify caller's goroutine.
func (m *Monitor) Watch(onDeath func()) domain.LivenessToken {
	tok := domain.LivenessToken(atomic.AddUint64(&m.next, 1))
	m.mu.Lock()
	m.watchers[tok] = onDeath
	m.mu.Unlock()
	return tok
}

// Release cancels a watch without firing onDeath. It is a no-op if the
// token is unknown or already fired/released.
func (m *Monitor) Release(tok domain.LivenessToken) {
	m.mu.Lock()
	delete(m.watchers, tok)
	m.mu.Unlock()
}

// Notify fires onDeath for tok, if still registered, and releases it.
func (m *Monitor) Notify(tok domain.LivenessToken) {
	m.mu.Lock()
	fn, ok := m.watchers[tok]
	delete(m.watchers, tok)
	m.mu.Unlock()
	if ok && fn != nil {
		fn()
	}
}
