package queue

import (
	"github.com/amq-core/brokerqueue/internal/brokererr"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/metrics"
	"github.com/amq-core/brokerqueue/internal/persister"
)

// Delete terminates the queue, optionally refusing if it still has
// consumers or buffered messages. It returns the buffered count at the
// moment of deletion.
func (p *Process) Delete(ifUnused, ifEmpty bool) (int, error) {
	type deleteResult struct {
		count int
		err   error
	}
	res := doSync(p, func(s *state) deleteResult {
		if ifUnused && !s.unused() {
			return deleteResult{0, brokererr.ErrInUse}
		}
		if ifEmpty && s.buffer.Len() != 0 {
			return deleteResult{0, brokererr.ErrNotEmpty}
		}
		count := s.buffer.Len()
		p.beginTerminate(s)
		metrics.IncTerminated("delete")
		return deleteResult{count, nil}
	})
	return res.count, res.err
}

// Purge drops every buffered message, submitting artificial acks for the
// persistent ones, and returns the purged count.
func (p *Process) Purge() int {
	return doSync(p, func(s *state) int {
		count := s.buffer.Len()
		var items []persister.WorkItem
		for e := s.buffer.Front(); e != nil; e = e.Next() {
			bm := e.Value.(bufferedMessage)
			if bm.msg.HasPersistenceKey() {
				items = append(items, persister.WorkItem{
					Kind: persister.KindAck, Queue: p.name, PersistenceKey: bm.msg.PersistenceKey,
				})
			}
		}
		if len(items) > 0 {
			p.persistDirty(s, items...)
		}
		s.buffer.Init()
		return count
	})
}

// NotifyChannelDown handles the death of a channel: drop its
// exclusive-consumer claim, remove its consumers, roll back its open
// transaction, and redeliver its unacked messages. Asynchronous, since
// there is no caller left to reply to.
func (p *Process) NotifyChannelDown(channelID domain.ChannelID) {
	p.doAsync(func(s *state) {
		if s.exclusiveConsumer != nil && s.exclusiveConsumer.channelID == channelID {
			s.exclusiveConsumer = nil
		}

		s.active.RemoveChannel(channelID)
		s.blocked.RemoveChannel(channelID)

		cr, ok := s.channels[channelID]
		if !ok {
			return
		}

		if cr.hasTxn {
			p.rollbackTxnLocked(s, cr.currentTxn)
		}

		if p.limiter != nil && cr.hasLimiterRef {
			p.limiter.Unregister(cr.limiterRef, p, channelID)
		}

		var toRedeliver []domain.Message
		for _, ue := range cr.unacked {
			toRedeliver = append(toRedeliver, ue.msg)
		}
		delete(s.channels, channelID)

		if len(toRedeliver) > 0 {
			p.redeliverBatch(s, toRedeliver)
		}

		if s.owner != nil && s.owner.ChannelID == channelID {
			s.owner = nil
		}

		p.checkAutoDelete(s)
	})
}

// NotifyOwnerDown handles the death of the owning connection: for an
// exclusive queue this is a normal end-of-life, not an error.
func (p *Process) NotifyOwnerDown(token domain.LivenessToken) {
	p.doAsync(func(s *state) {
		if s.owner == nil || s.owner.Token != token {
			return
		}
		s.owner = nil
		if s.descriptor.Exclusive {
			p.beginTerminate(s)
			metrics.IncTerminated("owner-down")
		}
	})
}
