package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/brokererr"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/metrics"
	"github.com/amq-core/brokerqueue/internal/persister"
	qlist "github.com/amq-core/brokerqueue/internal/queue/list"
)

// deliverOutcome is tryDeliver's result.
type deliverOutcome int

const (
	notDelivered deliverOutcome = iota
	deliveredWithAck
	deliveredNoAck
)

// dispatchLoop drains the buffer head-first: each message either finds a
// consumer and is popped, or stays at the head and the loop stops until
// the next state change re-enters it.
func (p *Process) dispatchLoop(s *state) {
	for {
		front := s.buffer.Front()
		if front == nil {
			return
		}
		bm := front.Value.(bufferedMessage)

		outcome, _ := p.tryDeliver(s, bm.msg, bm.redelivered)
		if outcome == notDelivered {
			return
		}

		s.buffer.Remove(front)

		if outcome == deliveredNoAck && bm.msg.HasPersistenceKey() {
			p.persistDirty(s, persister.WorkItem{
				Kind:           persister.KindAck,
				Queue:          p.name,
				PersistenceKey: bm.msg.PersistenceKey,
			})
		}
		metrics.IncDispatched(p.name)
	}
}

// tryDeliver rotates the active list, consults the Limiter, and places
// the message with the first consumer able to take it. Rotating the
// matched consumer to the tail yields strict round-robin; a consumer the
// Limiter refuses moves, with the rest of its channel's entries, into
// the blocked list.
func (p *Process) tryDeliver(s *state, msg domain.Message, redelivered bool) (deliverOutcome, domain.ChannelID) {
	attempts := s.active.Len()
	for i := 0; i < attempts; i++ {
		entry, ok := s.active.RotateFrontToBack()
		if !ok {
			return notDelivered, ""
		}
		cr, ok := s.channels[entry.ChannelID]
		if !ok {
			continue
		}

		if cr.hasLimiterRef && p.limiter != nil && !p.limiter.CanSend(cr.limiterRef, p, entry.Consumer.AckRequired) {
			cr.isLimitActive = true
			s.active.MoveChannelTo(entry.ChannelID, s.blocked)
			continue
		}

		deliveryID := s.nextDeliveryID
		s.nextDeliveryID++

		if cr.chanRef != nil {
			if err := cr.chanRef.Deliver(p.name, p, deliveryID, redelivered, msg); err != nil {
				p.logger.Warn("delivery rejected by channel", zap.String("channel", string(entry.ChannelID)), zap.Error(err))
				continue
			}
		}

		if entry.Consumer.AckRequired {
			cr.unacked[deliveryID] = unackedEntry{msg: msg, tag: entry.Consumer.Tag}
		}

		oldBlocked := cr.isBlocked(p.cfg.UnsentLimit)
		cr.unsentMessageCount++
		newBlocked := cr.isBlocked(p.cfg.UnsentLimit)
		if !oldBlocked && newBlocked {
			s.active.MoveChannelTo(entry.ChannelID, s.blocked)
		}

		if entry.Consumer.AckRequired {
			return deliveredWithAck, entry.ChannelID
		}
		return deliveredNoAck, entry.ChannelID
	}
	return notDelivered, ""
}

// reevaluateChannel re-checks cr's block state and, if it just became
// unblocked, moves its entries from the blocked list to the tail of the
// active list and re-enters the dispatch loop.
func (p *Process) reevaluateChannel(s *state, cr *channelRecord) {
	if cr.isBlocked(p.cfg.UnsentLimit) {
		if s.active.HasChannel(cr.channelID) {
			s.active.MoveChannelTo(cr.channelID, s.blocked)
		}
		return
	}
	if s.blocked.HasChannel(cr.channelID) {
		s.blocked.MoveChannelTo(cr.channelID, s.active)
		p.dispatchLoop(s)
	}
}

// redeliverBatch feeds messages back into the buffer with
// redelivered=true and re-enters the dispatch loop. Order is whatever
// the caller's slice gives — for channel-death redelivery that is the
// arbitrary order a map produces; original delivery order is not
// preserved once messages sit in an unacked map.
func (p *Process) redeliverBatch(s *state, msgs []domain.Message) {
	for _, m := range msgs {
		s.buffer.PushBack(bufferedMessage{msg: m, redelivered: true})
	}
	p.dispatchLoop(s)
}

// enqueueAtHead pushes msg to the front of the buffer (used by reject
// with requeue and requeue, so a rejected-then-requeued message is the
// next thing redelivered rather than going to the back of the line).
func (p *Process) enqueueAtHead(s *state, msg domain.Message) {
	s.buffer.PushFront(bufferedMessage{msg: msg, redelivered: true})
}

// insertConsumer places a freshly registered consumer into the active or
// blocked list depending on its channel's current block state, and, if
// placed into active, re-enters the dispatch loop.
func (p *Process) insertConsumer(s *state, e qlist.Entry, cr *channelRecord) {
	if cr.isBlocked(p.cfg.UnsentLimit) {
		s.blocked.PushBack(e)
		return
	}
	s.active.PushBack(e)
	p.dispatchLoop(s)
}

// checkAutoDelete schedules termination if the queue is declared
// auto-delete, has had a consumer at some point, and is now unused.
func (p *Process) checkAutoDelete(s *state) {
	if s.terminating {
		return
	}
	if s.descriptor.AutoDelete && s.hasHadConsumers && s.unused() {
		p.beginTerminate(s)
	}
}

// notifyConsumersCancelled tells every still-registered consumer's
// ChannelRef that its consumer was dropped by the queue rather than by
// its own cancel.
func (p *Process) notifyConsumersCancelled(s *state) {
	for _, e := range s.active.Entries() {
		p.notifyOneCancelled(s, e)
	}
	for _, e := range s.blocked.Entries() {
		p.notifyOneCancelled(s, e)
	}
}

func (p *Process) notifyOneCancelled(s *state, e qlist.Entry) {
	cr, ok := s.channels[e.ChannelID]
	if !ok || cr.chanRef == nil {
		return
	}
	cr.chanRef.ConsumerCancelled(e.Consumer.Tag)
}

// beginTerminate starts the running -> terminating transition: roll back
// open transactions and submit buffered + unacked messages as artificial
// acks so durable state is reclaimed.
func (p *Process) beginTerminate(s *state) {
	if s.terminating {
		return
	}
	s.terminating = true
	p.logger.Info("queue terminating")

	p.notifyConsumersCancelled(s)

	for txnID := range s.txns {
		p.rollbackTxnLocked(s, txnID)
	}

	var artificial []persister.WorkItem
	for e := s.buffer.Front(); e != nil; e = e.Next() {
		bm := e.Value.(bufferedMessage)
		if bm.msg.HasPersistenceKey() {
			artificial = append(artificial, persister.WorkItem{
				Kind: persister.KindAck, Queue: p.name, PersistenceKey: bm.msg.PersistenceKey,
			})
		}
	}
	for _, cr := range s.channels {
		for _, ue := range cr.unacked {
			if ue.msg.HasPersistenceKey() {
				artificial = append(artificial, persister.WorkItem{
					Kind: persister.KindAck, Queue: p.name, PersistenceKey: ue.msg.PersistenceKey,
				})
			}
		}
	}
	if len(artificial) > 0 {
		p.persistDirty(s, artificial...)
	}

	finalCount := s.buffer.Len()
	s.buffer.Init()
	if p.onTerminate != nil {
		p.onTerminate(finalCount)
	}
}

// persistDirty submits a non-transactional batch. A failure here is
// infrastructural and terminates the queue.
func (p *Process) persistDirty(s *state, items ...persister.WorkItem) {
	if p.persister == nil || len(items) == 0 {
		return
	}
	if err := p.persister.DirtyWork(context.Background(), items); err != nil {
		p.logger.Error("persister dirty work failed", zap.Error(err))
		p.terminateDueToError(s, err)
	}
}

// terminateDueToError handles an infrastructural persister failure:
// unlike bad client input, it is fatal to the queue. The supervisor
// decides whether to restart.
func (p *Process) terminateDueToError(s *state, cause error) {
	p.logger.Error("terminating due to infrastructural failure", zap.Error(cause), zap.NamedError("taxonomy", brokererr.ErrPersisterCommitFailure))
	p.beginTerminate(s)
}
