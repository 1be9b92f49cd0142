// Package limitertest provides a scriptable fake limiter.Limiter for
// queue-core tests that need to force block/unblock transitions
// deterministically.
package limitertest

import (
	"sync"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
)

// Fake always allows sends unless SetBlocked(ref, true) has been called.
type Fake struct {
	mu        sync.Mutex
	blocked   map[limiter.Ref]bool
	notifiees map[limiter.Ref]limiter.Notifiee
	channels  map[limiter.Ref]domain.ChannelID
}

var _ limiter.Limiter = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		blocked:   make(map[limiter.Ref]bool),
		notifiees: make(map[limiter.Ref]limiter.Notifiee),
		channels:  make(map[limiter.Ref]domain.ChannelID),
	}
}

func (f *Fake) Register(ref limiter.Ref, _ chanref.ProcessRef, channelID domain.ChannelID, n limiter.Notifiee) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifiees[ref] = n
	f.channels[ref] = channelID
}

func (f *Fake) Unregister(ref limiter.Ref, _ chanref.ProcessRef, _ domain.ChannelID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.notifiees, ref)
	delete(f.channels, ref)
	delete(f.blocked, ref)
}

func (f *Fake) CanSend(ref limiter.Ref, _ chanref.ProcessRef, _ bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.blocked[ref]
}

// Ack is a no-op: Fake doesn't model credit counts, only the blocked flag
// SetBlocked drives directly.
func (f *Fake) Ack(ref limiter.Ref, _ chanref.ProcessRef, _ int32) {}

// SetBlocked toggles whether ref may send. Setting it to false after it
// was true fires Unblock on the registered notifiee, if any.
func (f *Fake) SetBlocked(ref limiter.Ref, blocked bool) {
	f.mu.Lock()
	was := f.blocked[ref]
	f.blocked[ref] = blocked
	n := f.notifiees[ref]
	ch := f.channels[ref]
	f.mu.Unlock()

	if was && !blocked && n != nil {
		n.Unblock(ch)
	}
}
