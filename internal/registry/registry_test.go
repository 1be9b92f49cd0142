package registry_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter/limitertest"
	"github.com/amq-core/brokerqueue/internal/persister/memory"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	return registry.New(queue.Config{}, memory.New(), limitertest.New(), zap.NewNop())
}

func TestDeclareCreatesAndLooksUp(t *testing.T) {
	r := newRegistry(t)
	desc := domain.QueueDescriptor{Name: "orders"}

	p, err := r.Declare(desc)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	t.Cleanup(func() { p.Delete(false, false) })

	got, ok := r.Lookup("orders")
	if !ok || got != p {
		t.Fatalf("expected lookup to return the declared process")
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("expected names=[orders], got %v", names)
	}
}

func TestDeclareIsIdempotentForMatchingDescriptor(t *testing.T) {
	r := newRegistry(t)
	desc := domain.QueueDescriptor{Name: "orders", Durable: true}

	p1, err := r.Declare(desc)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	t.Cleanup(func() { p1.Delete(false, false) })

	p2, err := r.Declare(desc)
	if err != nil {
		t.Fatalf("redeclare: %v", err)
	}
	if p1 != p2 {
		t.Fatalf("expected redeclare of an identical descriptor to return the same process")
	}
}

func TestDeclareRejectsIncompatibleRedeclare(t *testing.T) {
	r := newRegistry(t)
	p1, err := r.Declare(domain.QueueDescriptor{Name: "orders", Durable: true})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	t.Cleanup(func() { p1.Delete(false, false) })

	_, err = r.Declare(domain.QueueDescriptor{Name: "orders", Durable: false})
	if err == nil {
		t.Fatalf("expected a descriptor mismatch error")
	}
	if _, ok := err.(*registry.ErrDescriptorMismatch); !ok {
		t.Fatalf("expected *registry.ErrDescriptorMismatch, got %T", err)
	}
}

// When a queue self-terminates (delete, auto-delete), the registry must
// forget it so a later declare creates a fresh process under the same name.
func TestTerminatedQueueIsForgotten(t *testing.T) {
	r := newRegistry(t)
	desc := domain.QueueDescriptor{Name: "scratch"}

	p1, err := r.Declare(desc)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if _, err := p1.Delete(false, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		if _, ok := r.Lookup("scratch"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected registry to forget the deleted queue")
		case <-time.After(time.Millisecond):
		}
	}

	p2, err := r.Declare(desc)
	if err != nil {
		t.Fatalf("re-declare after delete: %v", err)
	}
	t.Cleanup(func() { p2.Delete(false, false) })
	if p2 == p1 {
		t.Fatalf("expected a fresh process after the old one terminated")
	}
}
