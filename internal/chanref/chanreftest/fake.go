// Package chanreftest provides a recording fake chanref.ChannelRef for
// tests of the queue core.
package chanreftest

import (
	"sync"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
)

// Delivery is one recorded call to Deliver.
type Delivery struct {
	QueueName   string
	DeliveryID  domain.DeliveryID
	Redelivered bool
	Message     domain.Message
}

// Fake records every delivery and cancellation it receives. DeliverErr, if
// set, is returned from Deliver instead of recording (simulating a dead
// channel rejecting the push).
type Fake struct {
	mu         sync.Mutex
	Deliveries []Delivery
	Cancelled  []domain.ConsumerTag
	DeliverErr error
}

var _ chanref.ChannelRef = (*Fake)(nil)

func New() *Fake { return &Fake{} }

func (f *Fake) Deliver(queueName string, _ chanref.ProcessRef, deliveryID domain.DeliveryID, redelivered bool, msg domain.Message) error {
	if f.DeliverErr != nil {
		return f.DeliverErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deliveries = append(f.Deliveries, Delivery{
		QueueName:   queueName,
		DeliveryID:  deliveryID,
		Redelivered: redelivered,
		Message:     msg,
	})
	return nil
}

func (f *Fake) ConsumerCancelled(tag domain.ConsumerTag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cancelled = append(f.Cancelled, tag)
}

// Count returns the number of deliveries recorded so far.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Deliveries)
}

// Last returns the most recently recorded delivery.
func (f *Fake) Last() Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Deliveries[len(f.Deliveries)-1]
}
