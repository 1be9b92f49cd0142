// Package deduptest provides an in-memory dedup.Store test double.
package deduptest

import (
	"context"
	"sync"

	"github.com/amq-core/brokerqueue/internal/dedup"
)

// Fake is an in-memory dedup.Store.
type Fake struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

var _ dedup.Store = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{seen: make(map[string]struct{})}
}

func (f *Fake) Seen(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, dup := f.seen[key]
	f.seen[key] = struct{}{}
	return dup, nil
}

func (f *Fake) Forget(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, key)
	return nil
}
