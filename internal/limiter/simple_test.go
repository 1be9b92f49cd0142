package limiter_test

import (
	"testing"

	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter"
)

type fakeProcessRef struct{ name string }

func (f fakeProcessRef) QueueName() string { return f.name }

type recordingNotifiee struct {
	unblocked []domain.ChannelID
}

func (r *recordingNotifiee) Unblock(channelID domain.ChannelID) {
	r.unblocked = append(r.unblocked, channelID)
}

func (r *recordingNotifiee) Limit(domain.ChannelID, limiter.Ref) {}

func TestSimpleUnlimitedByDefault(t *testing.T) {
	s := limiter.NewSimple()
	ref := "A"
	queueRef := fakeProcessRef{"q"}
	s.Register(ref, queueRef, "A", &recordingNotifiee{})

	for i := 0; i < 100; i++ {
		if !s.CanSend(ref, queueRef, true) {
			t.Fatalf("expected unlimited channel to always allow sends")
		}
	}
}

func TestSimpleCreditExhaustionAndReplenish(t *testing.T) {
	s := limiter.NewSimple()
	ref := "A"
	n := &recordingNotifiee{}
	queueRef := fakeProcessRef{"q"}
	s.Register(ref, queueRef, "A", n)
	s.SetCredit(ref, 2)

	if !s.CanSend(ref, queueRef, true) || !s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected first two sends to be allowed")
	}
	if s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected credit to be exhausted after 2 sends")
	}

	s.Ack(ref, queueRef, 1)
	if len(n.unblocked) != 1 || n.unblocked[0] != "A" {
		t.Fatalf("expected an Unblock notification after replenishing from exhaustion, got %v", n.unblocked)
	}
	if !s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected a send to be allowed again after ack replenished credit")
	}
}

func TestSimpleSetCreditZeroRemovesLimit(t *testing.T) {
	s := limiter.NewSimple()
	ref := "A"
	queueRef := fakeProcessRef{"q"}
	s.Register(ref, queueRef, "A", &recordingNotifiee{})
	s.SetCredit(ref, 1)
	s.CanSend(ref, queueRef, true)
	if s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected credit exhausted")
	}
	s.SetCredit(ref, 0)
	if !s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected removing the cap to allow sends again")
	}
}

func TestSimpleUnregisterForgetsState(t *testing.T) {
	s := limiter.NewSimple()
	ref := "A"
	queueRef := fakeProcessRef{"q"}
	s.Register(ref, queueRef, "A", &recordingNotifiee{})
	s.SetCredit(ref, 1)
	s.Unregister(ref, queueRef, "A")

	// After unregister the ref is unknown, so CanSend falls back to the
	// unlimited default rather than carrying over the old cap.
	if !s.CanSend(ref, queueRef, true) {
		t.Fatalf("expected unregistered ref to be treated as unlimited")
	}
}
