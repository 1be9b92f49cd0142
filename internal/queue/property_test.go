package queue

import (
	"fmt"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"github.com/amq-core/brokerqueue/internal/chanref/chanreftest"
	"github.com/amq-core/brokerqueue/internal/domain"
	"github.com/amq-core/brokerqueue/internal/limiter/limitertest"
	"github.com/amq-core/brokerqueue/internal/persister/memory"
)

// invariantSnapshot collects violations of the structural invariants the
// queue must uphold between any two operations. It is computed from
// inside an op closure so it sees a consistent view of state, never
// mid-mutation.
func invariantSnapshot(s *state, unsentLimit int32) []string {
	var violations []string

	type key struct {
		ch  domain.ChannelID
		tag domain.ConsumerTag
	}
	seen := make(map[key]bool)
	for _, e := range s.active.Entries() {
		seen[key{e.ChannelID, e.Consumer.Tag}] = true
	}
	for _, e := range s.blocked.Entries() {
		k := key{e.ChannelID, e.Consumer.Tag}
		if seen[k] {
			violations = append(violations, fmt.Sprintf("consumer (%s,%s) present in both active and blocked", k.ch, k.tag))
		}
	}

	if s.exclusiveConsumer != nil {
		for _, e := range append(s.active.Entries(), s.blocked.Entries()...) {
			if e.ChannelID != s.exclusiveConsumer.channelID || e.Consumer.Tag != s.exclusiveConsumer.tag {
				violations = append(violations, fmt.Sprintf("exclusive consumer (%s,%s) set but (%s,%s) also registered",
					s.exclusiveConsumer.channelID, s.exclusiveConsumer.tag, e.ChannelID, e.Consumer.Tag))
			}
		}
	}

	if s.owner != nil {
		for _, e := range append(s.active.Entries(), s.blocked.Entries()...) {
			if e.ChannelID != s.owner.ChannelID {
				violations = append(violations, fmt.Sprintf("owner is %s but a consumer on channel %s is present", s.owner.ChannelID, e.ChannelID))
			}
		}
	}

	for chID, cr := range s.channels {
		inBlocked := s.blocked.HasChannel(chID)
		inActive := s.active.HasChannel(chID)
		if !inBlocked && !inActive {
			continue // no registered consumer for this channel right now
		}
		wantBlocked := cr.isBlocked(unsentLimit)
		if wantBlocked && !inBlocked {
			violations = append(violations, fmt.Sprintf("channel %s should be blocked but is in active", chID))
		}
		if !wantBlocked && inBlocked {
			violations = append(violations, fmt.Sprintf("channel %s should not be blocked but is in blocked", chID))
		}
	}

	return violations
}

// TestRandomSequencePreservesInvariants drives a randomized sequence of
// publish/register/cancel/ack/reject/requeue/channel-death operations
// and checks after every single one that the structural invariants hold,
// that the delivery id never decreases, and that the had-consumers flag
// never resets once set.
func TestRandomSequencePreservesInvariants(t *testing.T) {
	wal := memory.New()
	lim := limitertest.New()
	p := New(domain.QueueDescriptor{Name: "t.property.invariants"}, Config{UnsentLimit: 3}, wal, lim, zap.NewNop())
	p.Start()
	t.Cleanup(func() { p.Delete(false, false) })

	rng := rand.New(rand.NewSource(20260731))
	channels := []domain.ChannelID{"A", "B", "C"}
	refs := make(map[domain.ChannelID]*chanreftest.Fake)
	registered := make(map[domain.ChannelID]bool)

	var lastDeliveryID domain.DeliveryID
	var sawHadConsumers bool

	// snapshot is read out of the closure and asserted on the test's own
	// goroutine: t.Fatalf must never be called from the run loop's
	// goroutine that executes the doSync closure.
	type snapshot struct {
		violations   []string
		hasConsumers bool
		nextID       domain.DeliveryID
	}

	check := func(step int) {
		snap := doSync(p, func(s *state) snapshot {
			return snapshot{
				violations:   invariantSnapshot(s, p.cfg.UnsentLimit),
				hasConsumers: s.hasHadConsumers,
				nextID:       s.nextDeliveryID,
			}
		})
		if snap.hasConsumers {
			sawHadConsumers = true
		} else if sawHadConsumers {
			t.Fatalf("step %d: had-consumers flag reset to false", step)
		}
		if snap.nextID < lastDeliveryID {
			t.Fatalf("step %d: next delivery id decreased from %d to %d", step, lastDeliveryID, snap.nextID)
		}
		lastDeliveryID = snap.nextID
		if len(snap.violations) > 0 {
			t.Fatalf("step %d: invariant violations: %v", step, snap.violations)
		}
	}

	const steps = 300
	for i := 0; i < steps; i++ {
		ch := channels[rng.Intn(len(channels))]

		switch rng.Intn(9) {
		case 0, 1: // publish, weighted up since it drives most state change
			p.PublishSync("", ch, domain.Message{Body: []byte(fmt.Sprintf("m%d", i))})
		case 2:
			if !registered[ch] {
				ref := chanreftest.New()
				refs[ch] = ref
				if err := p.RegisterConsumer(RegisterConsumerInput{
					ChannelID: ch,
					Tag:       domain.ConsumerTag(ch),
					ChanRef:   ref,
					NoAck:     rng.Intn(2) == 0,
				}); err == nil {
					registered[ch] = true
				}
			}
		case 3:
			if registered[ch] {
				p.CancelConsumer(ch, domain.ConsumerTag(ch))
				registered[ch] = false
			}
		case 4:
			ref, ok := refs[ch]
			if ok && ref.Count() > 0 {
				last := ref.Last()
				p.Ack("", ch, []domain.DeliveryID{last.DeliveryID})
			}
		case 5:
			ref, ok := refs[ch]
			if ok && ref.Count() > 0 {
				last := ref.Last()
				p.Reject(ch, []domain.DeliveryID{last.DeliveryID}, rng.Intn(2) == 0)
			}
		case 6:
			if registered[ch] {
				p.NotifyChannelDown(ch)
				registered[ch] = false
			}
		case 7:
			// May fail with locked; ownership held until the channel dies.
			p.Claim(ch, domain.LivenessToken(i))
		case 8:
			if !registered[ch] {
				ref := chanreftest.New()
				refs[ch] = ref
				if err := p.RegisterConsumer(RegisterConsumerInput{
					ChannelID: ch,
					Tag:       domain.ConsumerTag(ch),
					ChanRef:   ref,
					NoAck:     rng.Intn(2) == 0,
					Exclusive: true,
				}); err == nil {
					registered[ch] = true
				}
			}
		}

		check(i)
	}
}

// TestGeneralRoundRobinFairness: for k identical active (no-ack)
// consumers and m > k published messages, every consumer receives either
// floor(m/k) or ceil(m/k) deliveries, across several (k, m) pairs.
func TestGeneralRoundRobinFairness(t *testing.T) {
	rng := rand.New(rand.NewSource(20260731))

	cases := []struct{ k, m int }{
		{2, 6},
		{3, 10},
		{4, 17},
		{5, 5 * 9},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("k=%d_m=%d", tc.k, tc.m), func(t *testing.T) {
			wal := memory.New()
			lim := limitertest.New()
			p := New(domain.QueueDescriptor{Name: fmt.Sprintf("t.property.fair.%d.%d", tc.k, tc.m)}, Config{}, wal, lim, zap.NewNop())
			p.Start()
			t.Cleanup(func() { p.Delete(false, false) })

			consumers := make([]*chanreftest.Fake, tc.k)
			for i := 0; i < tc.k; i++ {
				ref := chanreftest.New()
				consumers[i] = ref
				ch := domain.ChannelID(fmt.Sprintf("ch%d", i))
				if err := p.RegisterConsumer(RegisterConsumerInput{
					ChannelID: ch,
					Tag:       domain.ConsumerTag(ch),
					ChanRef:   ref,
					NoAck:     true,
				}); err != nil {
					t.Fatalf("register consumer %d: %v", i, err)
				}
			}

			for i := 0; i < tc.m; i++ {
				p.PublishSync("", "pub", domain.Message{Body: []byte(fmt.Sprintf("m%d", rng.Int()))})
			}

			lo := tc.m / tc.k
			hi := lo
			if tc.m%tc.k != 0 {
				hi = lo + 1
			}

			total := 0
			for i, c := range consumers {
				n := c.Count()
				total += n
				if n != lo && n != hi {
					t.Fatalf("consumer %d received %d deliveries, expected %d or %d", i, n, lo, hi)
				}
			}
			if total != tc.m {
				t.Fatalf("expected %d total deliveries, got %d", tc.m, total)
			}
		})
	}
}
