// Package registry maps queue names to running queue processes and owns
// the idempotent-declare semantics AMQP's queue.declare requires.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
	"github.com/amq-core/brokerqueue/internal/persister"
	"github.com/amq-core/brokerqueue/internal/queue"
)

// Registry owns the set of live queue processes for one broker node.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*queue.Process

	cfg       queue.Config
	persister persister.Persister
	limiter   limiter.Limiter
	logger    *zap.Logger
}

// New returns an empty Registry. cfg/persister/limiter/logger are the
// defaults handed to every queue process it creates.
func New(cfg queue.Config, p persister.Persister, lim limiter.Limiter, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		queues:    make(map[string]*queue.Process),
		cfg:       cfg,
		persister: p,
		limiter:   lim,
		logger:    logger,
	}
}

// ErrDescriptorMismatch is returned by Declare when an existing queue of
// the same name was declared with incompatible properties (AMQP's
// queue.declare "PRECONDITION_FAILED").
type ErrDescriptorMismatch struct {
	Name string
}

func (e *ErrDescriptorMismatch) Error() string {
	return fmt.Sprintf("queue %q already declared with different properties", e.Name)
}

// Declare is idempotent: redeclaring the same name with an identical
// descriptor returns the existing process. Declaring with a materially
// different descriptor is rejected, matching AMQP 0-9-1 queue.declare.
func (r *Registry) Declare(desc domain.QueueDescriptor) (*queue.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.queues[desc.Name]; ok {
		if existing := p.Descriptor(); !compatibleRedeclare(existing, desc) {
			return nil, &ErrDescriptorMismatch{Name: desc.Name}
		}
		return p, nil
	}

	p := queue.New(desc, r.cfg, r.persister, r.limiter, r.logger)
	p.OnTerminate(func(finalBufferedCount int) {
		r.mu.Lock()
		delete(r.queues, desc.Name)
		r.mu.Unlock()
		r.logger.Info("queue removed from registry",
			zap.String("queue", desc.Name),
			zap.Int("final_buffered_count", finalBufferedCount))
	})
	p.Start()
	r.queues[desc.Name] = p
	return p, nil
}

// Lookup returns the running process for name, if any.
func (r *Registry) Lookup(name string) (*queue.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.queues[name]
	return p, ok
}

// Names returns a snapshot of every currently declared queue name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.queues))
	for name := range r.queues {
		out = append(out, name)
	}
	return out
}

func compatibleRedeclare(existing, requested domain.QueueDescriptor) bool {
	return existing.Durable == requested.Durable &&
		existing.AutoDelete == requested.AutoDelete &&
		existing.Exclusive == requested.Exclusive
}
