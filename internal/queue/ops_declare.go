package queue

import (
	"github.com/amq-core/brokerqueue/internal/brokererr"
	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
	qlist "github.com/amq-core/brokerqueue/internal/queue/list"
)

// RegisterConsumerInput is RegisterConsumer's argument tuple.
type RegisterConsumerInput struct {
	ChannelID  domain.ChannelID
	Token      domain.LivenessToken
	ChanRef    chanref.ChannelRef
	LimiterRef limiter.Ref
	Tag        domain.ConsumerTag
	NoAck      bool
	Exclusive  bool
}

// RegisterConsumer attaches a consumer to this queue. It fails if the
// queue is owned by another connection, if an exclusive consumer already
// holds it, or if exclusive use is requested on a queue that already has
// a consumer.
func (p *Process) RegisterConsumer(in RegisterConsumerInput) error {
	return doSync(p, func(s *state) error {
		if s.terminating {
			return brokererr.ErrTerminating
		}
		if s.owner != nil && s.owner.ChannelID != in.ChannelID {
			return brokererr.ErrQueueOwned
		}
		if s.exclusiveConsumer != nil {
			return brokererr.ErrExclusiveConsumeUnavailable
		}
		if in.Exclusive && !s.unused() {
			return brokererr.ErrExclusiveConsumeUnavailable
		}

		cr := s.channel(in.ChannelID)
		firstConsumer := cr.consumerCount == 0
		cr.consumerCount++
		cr.token = in.Token
		cr.hasToken = true
		cr.chanRef = in.ChanRef
		cr.limiterRef = in.LimiterRef
		cr.hasLimiterRef = true

		if firstConsumer && p.limiter != nil {
			p.limiter.Register(in.LimiterRef, p, in.ChannelID, p)
		}

		s.hasHadConsumers = true
		if in.Exclusive {
			s.exclusiveConsumer = &exclusiveKey{channelID: in.ChannelID, tag: in.Tag}
		}

		entry := qlist.Entry{
			ChannelID: in.ChannelID,
			Consumer:  domain.ConsumerRecord{Tag: in.Tag, AckRequired: !in.NoAck},
		}
		p.insertConsumer(s, entry, cr)
		return nil
	})
}

// CancelConsumer detaches one consumer registration. Cancelling the last
// consumer of a channel unregisters the channel from its Limiter, and
// may trigger auto-delete.
func (p *Process) CancelConsumer(channelID domain.ChannelID, tag domain.ConsumerTag) error {
	return doSync(p, func(s *state) error {
		found := s.active.RemoveTag(channelID, tag)
		if s.blocked.RemoveTag(channelID, tag) {
			found = true
		}
		if !found {
			return nil
		}

		cr, ok := s.channels[channelID]
		if ok {
			cr.consumerCount--
			if cr.consumerCount <= 0 {
				cr.consumerCount = 0
				if p.limiter != nil && cr.hasLimiterRef {
					p.limiter.Unregister(cr.limiterRef, p, channelID)
				}
			}
		}

		if s.exclusiveConsumer != nil && s.exclusiveConsumer.channelID == channelID && s.exclusiveConsumer.tag == tag {
			s.exclusiveConsumer = nil
		}

		p.checkAutoDelete(s)
		return nil
	})
}

// Claim grants exclusive ownership of the queue if it is unowned and
// currently unused. It is idempotent for the same claimant.
func (p *Process) Claim(channelID domain.ChannelID, token domain.LivenessToken) error {
	return doSync(p, func(s *state) error {
		if s.owner == nil {
			if !s.unused() {
				return brokererr.ErrLocked
			}
			s.owner = &domain.Owner{ChannelID: channelID, Token: token}
			return nil
		}
		if s.owner.ChannelID == channelID {
			return nil // idempotent for the same claimant
		}
		return brokererr.ErrLocked
	})
}
