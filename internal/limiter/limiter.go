// Package limiter defines the per-channel credit arbiter the queue core
// consults before each delivery, and a real in-process implementation.
package limiter

import (
	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
)

// Ref is the opaque limiter-reference a channel record carries.
// Implementations compare refs for equality; the queue core never
// inspects one.
type Ref interface{}

// Notifiee is implemented by a queue process so a Limiter can push
// unblock/limit-change notifications back in.
type Notifiee interface {
	Unblock(channelID domain.ChannelID)
	Limit(channelID domain.ChannelID, newRef Ref)
}

// Limiter answers whether a channel may accept one more delivery and
// tracks the registration lifecycle of (ref, queue) pairs.
type Limiter interface {
	CanSend(ref Ref, queueRef chanref.ProcessRef, ackRequired bool) bool
	Register(ref Ref, queueRef chanref.ProcessRef, channelID domain.ChannelID, notifiee Notifiee)
	Unregister(ref Ref, queueRef chanref.ProcessRef, channelID domain.ChannelID)

	// Ack reports that count consumer-tagged deliveries were just
	// acknowledged, so credit-based implementations can replenish.
	Ack(ref Ref, queueRef chanref.ProcessRef, count int32)
}
