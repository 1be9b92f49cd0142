// Package chanref defines the queue core's contract back toward a
// Channel: delivery pushes and consumer-cancellation notices.
package chanref

import "github.com/amq-core/brokerqueue/internal/domain"

// ProcessRef is an opaque handle a queue process hands out to identify
// itself to collaborators (Limiter, ChannelRef) without exposing its
// internals.
type ProcessRef interface {
	QueueName() string
}

// ChannelRef is how a queue process reaches the channel that owns a
// consumer registration. TCP framing and wire encoding live on the
// other side of this interface.
type ChannelRef interface {
	// Deliver pushes one message at-most-once to the channel.
	Deliver(queueName string, queueRef ProcessRef, deliveryID domain.DeliveryID, redelivered bool, msg domain.Message) error
	// ConsumerCancelled notifies the channel that tag was dropped by the
	// queue (e.g. queue deletion), as opposed to a client-initiated cancel.
	ConsumerCancelled(tag domain.ConsumerTag)
}
