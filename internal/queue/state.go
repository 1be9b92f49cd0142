package queue

import (
	"container/list"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
	qlist "github.com/amq-core/brokerqueue/internal/queue/list"
)

// bufferedMessage is one undelivered entry of the message buffer.
type bufferedMessage struct {
	msg         domain.Message
	redelivered bool
}

// channelRecord is per-channel bookkeeping that survives as long as the
// channel has ever touched this queue.
type channelRecord struct {
	channelID domain.ChannelID

	consumerCount int
	token         domain.LivenessToken
	hasToken      bool

	chanRef chanref.ChannelRef

	limiterRef    limiter.Ref
	hasLimiterRef bool
	isLimitActive bool

	unacked map[domain.DeliveryID]unackedEntry

	currentTxn domain.TxnID
	hasTxn     bool

	unsentMessageCount int32
}

func newChannelRecord(id domain.ChannelID) *channelRecord {
	return &channelRecord{
		channelID: id,
		unacked:   make(map[domain.DeliveryID]unackedEntry),
	}
}

// unackedEntry pairs an in-flight message with the consumer tag that
// received it, so ack bookkeeping can tell consumer-driven deliveries
// apart from basic-get deliveries (tagged with the domain.NoTag
// sentinel) when deciding whether to notify the Limiter.
type unackedEntry struct {
	msg domain.Message
	tag domain.ConsumerTag
}

// isBlocked reports whether the channel belongs in the blocked set: it
// is limit-active or has reached the per-channel unsent cap.
func (cr *channelRecord) isBlocked(unsentLimit int32) bool {
	return cr.isLimitActive || (unsentLimit > 0 && cr.unsentMessageCount >= unsentLimit)
}

// txnRecord is one open transaction's slice of work on this queue.
type txnRecord struct {
	originChannel domain.ChannelID
	persistent    bool

	pendingPublishes  []bufferedMessage
	pendingAckBatches [][]domain.DeliveryID
}

// exclusiveKey identifies the single consumer registration holding the
// exclusive-consume lock.
type exclusiveKey struct {
	channelID domain.ChannelID
	tag       domain.ConsumerTag
}

// state is the queue's private data. It is only ever read or mutated
// from inside the run loop goroutine, so no field here needs a lock.
type state struct {
	descriptor domain.QueueDescriptor

	owner             *domain.Owner
	exclusiveConsumer *exclusiveKey
	hasHadConsumers   bool

	nextDeliveryID domain.DeliveryID

	buffer *list.List // of bufferedMessage

	active  *qlist.ConsumerList
	blocked *qlist.ConsumerList

	channels map[domain.ChannelID]*channelRecord
	txns     map[domain.TxnID]*txnRecord

	terminating bool
}

func newState(desc domain.QueueDescriptor) *state {
	return &state{
		descriptor: desc,
		buffer:     list.New(),
		active:     qlist.New(),
		blocked:    qlist.New(),
		channels:   make(map[domain.ChannelID]*channelRecord),
		txns:       make(map[domain.TxnID]*txnRecord),
	}
}

func (s *state) channel(id domain.ChannelID) *channelRecord {
	cr, ok := s.channels[id]
	if !ok {
		cr = newChannelRecord(id)
		s.channels[id] = cr
	}
	return cr
}

// unused reports whether the queue currently has no registered consumer
// of any kind — used by claim, delete(if-unused), and the auto-delete
// gate.
func (s *state) unused() bool {
	for _, cr := range s.channels {
		if cr.consumerCount > 0 {
			return false
		}
	}
	return true
}
