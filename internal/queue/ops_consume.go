package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/brokererr"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/persister"
)

// GetResult is BasicGet's reply.
type GetResult struct {
	Message          domain.Message
	DeliveryID       domain.DeliveryID
	MessageCountLeft int
	Empty            bool
}

// BasicGet pops the buffer head directly, bypassing the consumer
// dispatch path entirely.
func (p *Process) BasicGet(channelID domain.ChannelID, noAck bool) GetResult {
	return doSync(p, func(s *state) GetResult {
		front := s.buffer.Front()
		if front == nil {
			return GetResult{Empty: true}
		}
		bm := front.Value.(bufferedMessage)
		s.buffer.Remove(front)

		deliveryID := s.nextDeliveryID
		s.nextDeliveryID++

		ackRequired := !noAck
		if ackRequired {
			cr := s.channel(channelID)
			cr.unacked[deliveryID] = unackedEntry{msg: bm.msg, tag: domain.NoTag}
		} else if bm.msg.HasPersistenceKey() {
			p.persistDirty(s, persister.WorkItem{
				Kind: persister.KindAck, Queue: p.name, PersistenceKey: bm.msg.PersistenceKey,
			})
		}

		return GetResult{
			Message:          bm.msg,
			DeliveryID:       deliveryID,
			MessageCountLeft: s.buffer.Len(),
		}
	})
}

// Ack settles deliveries. Outside a transaction the acks are persisted
// immediately and the Limiter is told how many consumer-tagged
// deliveries were released; inside one they are batched into the
// transaction record and only take effect at commit.
func (p *Process) Ack(txn domain.TxnID, channelID domain.ChannelID, ids []domain.DeliveryID) {
	p.doAsync(func(s *state) {
		cr, ok := s.channels[channelID]
		if !ok {
			return // channel already died; nothing to do
		}

		removed := make([]unackedEntry, 0, len(ids))
		for _, id := range ids {
			ue, ok := cr.unacked[id]
			if !ok {
				p.logger.Warn("ack for a delivery this channel does not hold",
					zap.Uint64("delivery_id", uint64(id)),
					zap.String("channel", string(channelID)),
					zap.Error(brokererr.ErrUnknownDeliveryTag))
				continue
			}
			removed = append(removed, ue)
			if txn == "" {
				delete(cr.unacked, id)
			}
		}

		if txn == "" {
			var consumerAcks int32
			var items []persister.WorkItem
			for _, ue := range removed {
				if ue.tag != domain.NoTag {
					consumerAcks++
				}
				if ue.msg.HasPersistenceKey() {
					items = append(items, persister.WorkItem{
						Kind: persister.KindAck, Queue: p.name, PersistenceKey: ue.msg.PersistenceKey,
					})
				}
			}
			if consumerAcks > 0 && p.limiter != nil && cr.hasLimiterRef {
				p.limiter.Ack(cr.limiterRef, p, consumerAcks)
			}
			if len(items) > 0 {
				p.persistDirty(s, items...)
			}
			p.reevaluateAfterAck(s, cr, len(removed))
			return
		}

		persistentBatch := false
		var extendItems []persister.WorkItem
		for _, ue := range removed {
			if ue.msg.HasPersistenceKey() {
				persistentBatch = true
				extendItems = append(extendItems, persister.WorkItem{
					Kind: persister.KindAck, Queue: p.name, PersistenceKey: ue.msg.PersistenceKey,
				})
			}
		}
		if len(extendItems) > 0 && p.persister != nil {
			key := persister.TxnKey{Txn: txn, Queue: p.name}
			if err := p.persister.ExtendTransaction(context.Background(), key, extendItems); err != nil {
				p.logger.Error("transaction extend failed", zap.Error(err))
				p.terminateDueToError(s, err)
				return
			}
		}
		p.recordPendingAckBatch(s, txn, channelID, ids, persistentBatch)
	})
}

// reevaluateAfterAck decrements the unsent-count bookkeeping an ack
// releases and re-runs the blocked/active transition check.
func (p *Process) reevaluateAfterAck(s *state, cr *channelRecord, ackedCount int) {
	cr.unsentMessageCount -= int32(ackedCount)
	if cr.unsentMessageCount < 0 {
		cr.unsentMessageCount = 0
	}
	p.reevaluateChannel(s, cr)
}

// Reject gives back unacked deliveries: requeued at the buffer head, or
// discarded with their acks persisted.
func (p *Process) Reject(channelID domain.ChannelID, ids []domain.DeliveryID, requeue bool) {
	p.doAsync(func(s *state) {
		p.releaseUnacked(s, channelID, ids, requeue)
	})
}

// Requeue is identical to Reject with requeue=true except it does not
// notify the Limiter of an ack.
func (p *Process) Requeue(channelID domain.ChannelID, ids []domain.DeliveryID) {
	p.doAsync(func(s *state) {
		p.releaseUnackedNoLimiterNotify(s, channelID, ids)
	})
}

func (p *Process) releaseUnacked(s *state, channelID domain.ChannelID, ids []domain.DeliveryID, requeue bool) {
	cr, ok := s.channels[channelID]
	if !ok {
		return
	}
	removed := p.popUnacked(cr, ids)

	var consumerAcks int32
	for _, ue := range removed {
		if ue.tag != domain.NoTag {
			consumerAcks++
		}
	}
	if consumerAcks > 0 && p.limiter != nil && cr.hasLimiterRef {
		p.limiter.Ack(cr.limiterRef, p, consumerAcks)
	}

	if requeue {
		for i := len(removed) - 1; i >= 0; i-- {
			p.enqueueAtHead(s, removed[i].msg)
		}
		p.dispatchLoop(s)
	} else {
		var items []persister.WorkItem
		for _, ue := range removed {
			if ue.msg.HasPersistenceKey() {
				items = append(items, persister.WorkItem{
					Kind: persister.KindAck, Queue: p.name, PersistenceKey: ue.msg.PersistenceKey,
				})
			}
		}
		if len(items) > 0 {
			p.persistDirty(s, items...)
		}
	}
	p.reevaluateAfterAck(s, cr, len(removed))
}

func (p *Process) releaseUnackedNoLimiterNotify(s *state, channelID domain.ChannelID, ids []domain.DeliveryID) {
	cr, ok := s.channels[channelID]
	if !ok {
		return
	}
	removed := p.popUnacked(cr, ids)
	for i := len(removed) - 1; i >= 0; i-- {
		p.enqueueAtHead(s, removed[i].msg)
	}
	p.dispatchLoop(s)
	cr.unsentMessageCount -= int32(len(removed))
	if cr.unsentMessageCount < 0 {
		cr.unsentMessageCount = 0
	}
	p.reevaluateChannel(s, cr)
}

func (p *Process) popUnacked(cr *channelRecord, ids []domain.DeliveryID) []unackedEntry {
	removed := make([]unackedEntry, 0, len(ids))
	for _, id := range ids {
		if ue, ok := cr.unacked[id]; ok {
			removed = append(removed, ue)
			delete(cr.unacked, id)
		}
	}
	return removed
}

// Redeliver accepts a batch and feeds it back into the dispatch loop
// with redelivered=true.
func (p *Process) Redeliver(messages []domain.Message) {
	p.doAsync(func(s *state) {
		p.redeliverBatch(s, messages)
	})
}
