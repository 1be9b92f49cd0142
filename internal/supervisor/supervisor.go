// Package supervisor restarts durable queue processes that terminate
// unexpectedly, such as after a persister-commit failure, with
// exponential backoff between attempts.
package supervisor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
)

// Supervisor watches durable queues' processes, one watch per queue
// name, and redeclares a queue with the same descriptor if it
// terminates while the broker is still running — it cannot tell
// "explicit delete" from "infrastructural failure" on its own, so
// callers stop watching a queue before an intentional delete (see
// Forget).
type Supervisor struct {
	reg       *registry.Registry
	logger    *zap.Logger
	baseDelay time.Duration
	maxDelay  time.Duration

	mu     sync.Mutex
	cancel map[string]context.CancelFunc
}

// New returns a Supervisor driving restarts through reg.
func New(reg *registry.Registry, baseDelay, maxDelay time.Duration, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Supervisor{
		reg:       reg,
		logger:    logger,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		cancel:    make(map[string]context.CancelFunc),
	}
}

// Watch starts monitoring desc's queue: whenever its process exits while
// Forget hasn't been called for that name, Watch redeclares it.
func (sv *Supervisor) Watch(desc domain.QueueDescriptor, p *queue.Process) {
	ctx, cancel := context.WithCancel(context.Background())
	sv.mu.Lock()
	sv.cancel[desc.Name] = cancel
	sv.mu.Unlock()
	go sv.watchLoop(ctx, desc, p)
}

// Forget stops supervising name — call this right before an intentional
// delete so the ensuing termination is not mistaken for a crash.
func (sv *Supervisor) Forget(name string) {
	sv.mu.Lock()
	cancel, ok := sv.cancel[name]
	delete(sv.cancel, name)
	sv.mu.Unlock()
	if ok {
		cancel()
	}
}

func (sv *Supervisor) watchLoop(ctx context.Context, desc domain.QueueDescriptor, p *queue.Process) {
	for attempt := 0; ; attempt++ {
		select {
		case <-p.Stopped():
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := backoff(sv.baseDelay, sv.maxDelay, attempt)
		sv.logger.Warn("queue process terminated unexpectedly, restarting",
			zap.String("queue", desc.Name),
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		next, err := sv.reg.Declare(desc)
		if err != nil {
			sv.logger.Error("failed to redeclare queue after crash", zap.String("queue", desc.Name), zap.Error(err))
			continue
		}
		sv.logger.Info("queue process restarted", zap.String("queue", desc.Name))
		p = next
		attempt = -1 // reset backoff on a successful restart
	}
}

func backoff(base, max time.Duration, attempt int) time.Duration {
	d := time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt)),
		float64(max),
	))
	return d
}
