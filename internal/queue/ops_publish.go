package queue

import (
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/metrics"
	"github.com/amq-core/brokerqueue/internal/persister"
)

// PublishOutcome reports where a publish ended up: handed straight to a
// consumer, buffered, or deferred into an open transaction.
type PublishOutcome int

const (
	PublishQueued PublishOutcome = iota
	PublishRouted
	PublishDeferred
)

// Publish accepts a message asynchronously: it attempts immediate
// delivery and enqueues at the tail if no consumer takes it. Use
// PublishSync if the routed/queued outcome is needed.
func (p *Process) Publish(txn domain.TxnID, channelID domain.ChannelID, msg domain.Message) {
	p.doAsync(func(s *state) {
		p.doPublish(s, txn, channelID, msg)
	})
}

// PublishSync is Publish's synchronous form, for callers that want the
// routed/queued reply.
func (p *Process) PublishSync(txn domain.TxnID, channelID domain.ChannelID, msg domain.Message) PublishOutcome {
	return doSync(p, func(s *state) PublishOutcome {
		return p.doPublish(s, txn, channelID, msg)
	})
}

func (p *Process) doPublish(s *state, txn domain.TxnID, channelID domain.ChannelID, msg domain.Message) PublishOutcome {
	if txn != "" {
		p.recordPendingPublish(s, txn, channelID, msg)
		return PublishDeferred
	}

	if msg.HasPersistenceKey() {
		p.persistDirty(s, persister.WorkItem{
			Kind: persister.KindPublish, Queue: p.name,
			PersistenceKey: msg.PersistenceKey, Message: msg,
		})
	}

	wasEmpty := s.buffer.Len() == 0
	s.buffer.PushBack(bufferedMessage{msg: msg, redelivered: false})

	if !wasEmpty {
		return PublishQueued
	}
	before := s.buffer.Len()
	p.dispatchLoop(s)
	if s.buffer.Len() < before {
		return PublishRouted
	}
	return PublishQueued
}

// DeliverImmediately attempts delivery only and never enqueues: it
// succeeds only if this queue has an eligible consumer right now and no
// backlog ahead of this message. Which consumer takes it follows the
// same rotation as ordinary dispatch. Inside a transaction it returns
// false and records the message as a pending publish; at commit that
// publish is handled like any other and is buffered if no consumer
// takes it.
func (p *Process) DeliverImmediately(txn domain.TxnID, channelID domain.ChannelID, msg domain.Message) bool {
	return doSync(p, func(s *state) bool {
		if txn != "" {
			p.recordPendingPublish(s, txn, channelID, msg)
			return false
		}

		if msg.HasPersistenceKey() {
			p.persistDirty(s, persister.WorkItem{
				Kind: persister.KindPublish, Queue: p.name,
				PersistenceKey: msg.PersistenceKey, Message: msg,
			})
		}

		delivered := false
		if s.buffer.Len() == 0 {
			outcome, _ := p.tryDeliver(s, msg, false)
			delivered = outcome != notDelivered
			if outcome == deliveredNoAck && msg.HasPersistenceKey() {
				p.persistDirty(s, persister.WorkItem{Kind: persister.KindAck, Queue: p.name, PersistenceKey: msg.PersistenceKey})
			}
		}
		if !delivered {
			// The message is dropped, not buffered; reclaim its durable
			// record the same way termination does for buffered messages.
			if msg.HasPersistenceKey() {
				p.persistDirty(s, persister.WorkItem{Kind: persister.KindAck, Queue: p.name, PersistenceKey: msg.PersistenceKey})
			}
			return false
		}
		metrics.IncDispatched(p.name)
		return true
	})
}
