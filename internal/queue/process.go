// Package queue implements the broker's per-queue engine: a
// mailbox-serialized process that accepts publishes, dispatches to
// consumers with round-robin fairness and flow control, tracks unacked
// deliveries, and runs transactional publish/ack batches.
package queue

import (
	"time"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
	"github.com/amq-core/brokerqueue/internal/metrics"
	"github.com/amq-core/brokerqueue/internal/persister"
)

// Process is one queue: a single goroutine serializing every operation
// against its own private state. All exported methods are safe to call
// concurrently from many channels; each enqueues a closure onto the
// mailbox rather than touching state directly.
type Process struct {
	name   string
	desc   domain.QueueDescriptor
	cfg    Config
	logger *zap.Logger

	persister persister.Persister
	limiter   limiter.Limiter

	ops     chan func()
	stopped chan struct{}

	// onTerminate is invoked once, from the run loop, the moment the
	// process finishes its terminating cleanup. Typically wired to a
	// Registry to drop the name -> Process mapping.
	onTerminate func(finalBufferedCount int)

	st *state
}

var _ chanref.ProcessRef = (*Process)(nil)
var _ limiter.Notifiee = (*Process)(nil)

// New constructs a Process for desc. It does not start the run loop;
// call Start.
func New(desc domain.QueueDescriptor, cfg Config, p persister.Persister, lim limiter.Limiter, logger *zap.Logger) *Process {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Process{
		name:      desc.Name,
		desc:      desc,
		cfg:       cfg.WithDefaults(),
		logger:    logger.With(zap.String("queue", desc.Name)),
		persister: p,
		limiter:   lim,
		ops:       make(chan func()),
		stopped:   make(chan struct{}),
		st:        newState(desc),
	}
}

// QueueName implements chanref.ProcessRef.
func (p *Process) QueueName() string { return p.name }

// Descriptor returns the immutable declaration this process was created
// with. Safe to call from any goroutine: set once in New, before Start,
// and never written again.
func (p *Process) Descriptor() domain.QueueDescriptor { return p.desc }

// OnTerminate registers a callback fired once termination cleanup
// completes. Must be called before Start.
func (p *Process) OnTerminate(fn func(finalBufferedCount int)) {
	p.onTerminate = fn
}

// Start launches the run loop goroutine.
func (p *Process) Start() {
	go p.run()
}

// Stopped is closed once the run loop has exited.
func (p *Process) Stopped() <-chan struct{} { return p.stopped }

func (p *Process) run() {
	defer close(p.stopped)
	p.logger.Info("queue process started")

	hibernate := time.NewTimer(p.cfg.HibernateAfter)
	defer hibernate.Stop()

	for {
		select {
		case fn, ok := <-p.ops:
			if !ok {
				return
			}
			fn()
			p.publishGaugeMetrics()
			if !hibernate.Stop() {
				select {
				case <-hibernate.C:
				default:
				}
			}
			hibernate.Reset(p.cfg.HibernateAfter)
			if p.st.terminating && p.st.buffer.Len() == 0 && len(p.st.txns) == 0 {
				p.logger.Info("queue process terminated")
				return
			}
		case <-hibernate.C:
			p.hibernateOnce()
			hibernate.Reset(p.cfg.HibernateAfter)
		}
	}
}

// hibernateOnce releases cached working memory after an idle period.
// Observable state is unchanged afterward, only allocation is released.
func (p *Process) hibernateOnce() {
	if p.st.buffer.Len() == 0 {
		p.st.buffer.Init()
	}
	p.logger.Debug("queue process hibernated")
}

func (p *Process) publishGaugeMetrics() {
	metrics.SetMessagesReady(p.name, p.st.buffer.Len())
	metrics.SetConsumers(p.name, p.st.active.Len(), p.st.blocked.Len())
}

// doSync enqueues fn and blocks for its result. Used by every operation
// whose caller awaits a reply.
func doSync[T any](p *Process, fn func(s *state) T) T {
	reply := make(chan T, 1)
	select {
	case p.ops <- func() { reply <- fn(p.st) }:
	case <-p.stopped:
		var zero T
		return zero
	}
	select {
	case v := <-reply:
		return v
	case <-p.stopped:
		var zero T
		return zero
	}
}

// doAsync enqueues fn without waiting for completion. Used by the
// fire-and-forget operations.
func (p *Process) doAsync(fn func(s *state)) {
	select {
	case p.ops <- func() { fn(p.st) }:
	case <-p.stopped:
	}
}

// Stats is a point-in-time introspection snapshot, used by the
// management API.
type Stats struct {
	Name             string
	MessagesReady    int
	ConsumersActive  int
	ConsumersBlocked int
	Terminating      bool
}

// Stats returns a synchronous snapshot of this queue's current state.
func (p *Process) Stats() Stats {
	return doSync(p, func(s *state) Stats {
		return Stats{
			Name:             p.name,
			MessagesReady:    s.buffer.Len(),
			ConsumersActive:  s.active.Len(),
			ConsumersBlocked: s.blocked.Len(),
			Terminating:      s.terminating,
		}
	})
}

// Unblock implements limiter.Notifiee: the Limiter tells us channelID can
// accept sends again.
func (p *Process) Unblock(channelID domain.ChannelID) {
	p.doAsync(func(s *state) {
		cr, ok := s.channels[channelID]
		if !ok {
			return
		}
		cr.isLimitActive = false
		p.reevaluateChannel(s, cr)
	})
}

// Limit implements limiter.Notifiee: the Limiter has assigned channelID a
// new limiter reference.
func (p *Process) Limit(channelID domain.ChannelID, newRef limiter.Ref) {
	p.doAsync(func(s *state) {
		cr := s.channel(channelID)
		cr.limiterRef = newRef
		cr.hasLimiterRef = true
	})
}

// NotifySent is the explicit signal a Channel sends after draining one
// delivery from its own send buffer, releasing one unit of the
// per-channel unsent cap.
func (p *Process) NotifySent(channelID domain.ChannelID) {
	p.doAsync(func(s *state) {
		cr, ok := s.channels[channelID]
		if !ok {
			return
		}
		if cr.unsentMessageCount > 0 {
			cr.unsentMessageCount--
		}
		p.reevaluateChannel(s, cr)
	})
}
