// Package domain holds the identifiers and value types shared across the
// queue core and its external collaborators.
package domain

import amqp "github.com/rabbitmq/amqp091-go"

// ChannelID identifies a client channel across every queue it has ever
// touched. Channels are multiplexed inside one client connection; the
// broker's connection/channel layer is out of scope here, so callers mint
// whatever stable identity makes sense for them (typically a UUID).
type ChannelID string

// ConsumerTag is the client-chosen label for one consumer registration.
type ConsumerTag string

// NoTag is the sentinel tag used for deliveries produced by basic-get,
// which have no consumer registration behind them.
const NoTag ConsumerTag = ""

// DeliveryID is the per-queue, monotonically increasing id attached to
// each dispatched message (push or basic-get).
type DeliveryID uint64

// TxnID names a transaction scope. A transaction may span several queues;
// each queue only ever sees the slice of work routed to it.
type TxnID string

// LivenessToken is the handle returned by a liveness subscription; see
// package monitor. It is opaque to the queue core beyond equality and the
// ability to be released.
type LivenessToken uint64

// Message is the payload the queue core moves around. It reuses
// amqp091-go's table type for headers so that a real AMQP front end can
// hand the core wire-accurate data without a translation layer, even
// though this package never touches the wire itself.
type Message struct {
	Body           []byte
	Headers        amqp.Table
	ContentType    string
	PersistenceKey string // opaque persister key; empty means non-persistent
	Persistent     bool
}

// HasPersistenceKey reports whether this message should be mirrored to the
// Persister on publish/ack/deliver.
func (m Message) HasPersistenceKey() bool {
	return m.Persistent && m.PersistenceKey != ""
}

// QueueDescriptor is the identity and declared policy of one queue.
type QueueDescriptor struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// Owner identifies the connection holding an exclusive-queue lock.
type Owner struct {
	ChannelID ChannelID
	Token     LivenessToken
}

// ConsumerRecord is the per-registration bookkeeping kept in
// ActiveConsumers/BlockedConsumers.
type ConsumerRecord struct {
	Tag         ConsumerTag
	AckRequired bool
}
