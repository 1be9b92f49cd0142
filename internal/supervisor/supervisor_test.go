package supervisor_test

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter/limitertest"
	"github.com/amq-core/brokerqueue/internal/persister/memory"
	"github.com/amq-core/brokerqueue/internal/queue"
	"github.com/amq-core/brokerqueue/internal/registry"
	"github.com/amq-core/brokerqueue/internal/supervisor"
)

func TestWatchRestartsAfterCrash(t *testing.T) {
	reg := registry.New(queue.Config{}, memory.New(), limitertest.New(), zap.NewNop())
	sv := supervisor.New(reg, 10*time.Millisecond, 50*time.Millisecond, zap.NewNop())

	desc := domain.QueueDescriptor{Name: "durable1", Durable: true}
	p, err := reg.Declare(desc)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	sv.Watch(desc, p)

	// Simulate an infrastructural crash: delete without Forget first.
	if _, err := p.Delete(false, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if got, ok := reg.Lookup("durable1"); ok && got != p {
			t.Cleanup(func() {
				sv.Forget("durable1")
				got.Delete(false, false)
			})
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected supervisor to restart the crashed queue")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestForgetPreventsRestartOnIntentionalDelete(t *testing.T) {
	reg := registry.New(queue.Config{}, memory.New(), limitertest.New(), zap.NewNop())
	sv := supervisor.New(reg, 10*time.Millisecond, 50*time.Millisecond, zap.NewNop())

	desc := domain.QueueDescriptor{Name: "durable2", Durable: true}
	p, err := reg.Declare(desc)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	sv.Watch(desc, p)
	sv.Forget("durable2")

	if _, err := p.Delete(false, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Give the (now-cancelled) watch loop time to do the wrong thing if it
	// were still running, then confirm nothing came back.
	time.Sleep(100 * time.Millisecond)
	if _, ok := reg.Lookup("durable2"); ok {
		t.Fatalf("expected no restart after Forget")
	}
}
