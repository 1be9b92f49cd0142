package queue

import (
	"context"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/brokererr"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/metrics"
	"github.com/amq-core/brokerqueue/internal/persister"
)

func (s *state) getOrCreateTxn(txn domain.TxnID, originChannel domain.ChannelID) *txnRecord {
	tr, ok := s.txns[txn]
	if !ok {
		tr = &txnRecord{originChannel: originChannel}
		s.txns[txn] = tr
	}
	return tr
}

// recordPendingPublish defers a transactional publish: it lands in the
// transaction record's pending list and only reaches the buffer at
// commit.
func (p *Process) recordPendingPublish(s *state, txn domain.TxnID, channelID domain.ChannelID, msg domain.Message) {
	tr := s.getOrCreateTxn(txn, channelID)
	tr.pendingPublishes = append(tr.pendingPublishes, bufferedMessage{msg: msg, redelivered: false})
	if msg.HasPersistenceKey() {
		tr.persistent = true
	}
	cr := s.channel(channelID)
	cr.currentTxn = txn
	cr.hasTxn = true
}

// recordPendingAckBatch appends an id list to the transaction's pending
// ack batches and marks the channel as the txn holder so channel death
// cleans the txn up.
func (p *Process) recordPendingAckBatch(s *state, txn domain.TxnID, channelID domain.ChannelID, ids []domain.DeliveryID, persistent bool) {
	tr := s.getOrCreateTxn(txn, channelID)
	tr.pendingAckBatches = append(tr.pendingAckBatches, ids)
	if persistent {
		tr.persistent = true
	}
	cr := s.channel(channelID)
	cr.currentTxn = txn
	cr.hasTxn = true
}

// Commit settles txn's slice of work on this queue: once the Persister
// acknowledges the commit, pending publishes and acks are applied in the
// order they were recorded.
func (p *Process) Commit(txn domain.TxnID) error {
	return doSync(p, func(s *state) error {
		tr, ok := s.txns[txn]
		if !ok {
			return nil // no work recorded for this txn on this queue
		}

		if tr.persistent && p.persister != nil {
			key := persister.TxnKey{Txn: txn, Queue: p.name}
			if err := p.persister.CommitTransaction(context.Background(), key); err != nil {
				p.logger.Error("transaction commit failed", zap.Error(err), zap.String("txn", string(txn)))
				p.terminateDueToError(s, err)
				return brokererr.ErrPersisterCommitFailure
			}
		}

		for _, bm := range tr.pendingPublishes {
			p.doPublish(s, "", tr.originChannel, bm.msg)
		}

		if cr, ok := s.channels[tr.originChannel]; ok {
			var removed int
			var consumerAcks int32
			for _, ids := range tr.pendingAckBatches {
				for _, id := range ids {
					ue, held := cr.unacked[id]
					if !held {
						continue
					}
					removed++
					if ue.tag != domain.NoTag {
						consumerAcks++
					}
					delete(cr.unacked, id)
				}
			}
			if consumerAcks > 0 && p.limiter != nil && cr.hasLimiterRef {
				p.limiter.Ack(cr.limiterRef, p, consumerAcks)
			}
			if removed > 0 {
				p.reevaluateAfterAck(s, cr, removed)
			}
		}

		if cr, ok := s.channels[tr.originChannel]; ok && cr.currentTxn == txn {
			cr.hasTxn = false
			cr.currentTxn = ""
		}
		delete(s.txns, txn)
		metrics.IncCommit(p.name)
		return nil
	})
}

// Rollback discards txn's slice of work on this queue.
func (p *Process) Rollback(txn domain.TxnID) {
	p.doAsync(func(s *state) {
		p.rollbackTxnLocked(s, txn)
	})
}

func (p *Process) rollbackTxnLocked(s *state, txn domain.TxnID) {
	tr, ok := s.txns[txn]
	if !ok {
		return
	}
	if tr.persistent && p.persister != nil {
		key := persister.TxnKey{Txn: txn, Queue: p.name}
		if err := p.persister.RollbackTransaction(context.Background(), key); err != nil {
			p.logger.Error("transaction rollback failed", zap.Error(err), zap.String("txn", string(txn)))
		}
	}
	if cr, ok := s.channels[tr.originChannel]; ok && cr.currentTxn == txn {
		cr.hasTxn = false
		cr.currentTxn = ""
	}
	delete(s.txns, txn)
	metrics.IncRollback(p.name)
}
