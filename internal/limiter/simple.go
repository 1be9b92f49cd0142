package limiter

import (
	"sync"

	"github.com/amq-core/brokerqueue/internal/chanref"
	"github.com/amq-core/brokerqueue/internal/domain"
)

// Simple is an in-process credit limiter: each (ref, channel) pair starts
// unlimited (CanSend always true) until SetCredit caps it, mirroring AMQP
// basic.qos prefetch-count semantics applied per channel.
type Simple struct {
	mu    sync.Mutex
	state map[Ref]*channelCredit
}

type channelCredit struct {
	channelID domain.ChannelID
	notifiee  Notifiee
	limited   bool
	credit    int32
}

// NewSimple returns an empty Simple limiter.
func NewSimple() *Simple {
	return &Simple{state: make(map[Ref]*channelCredit)}
}

var _ Limiter = (*Simple)(nil)

func (s *Simple) Register(ref Ref, _ chanref.ProcessRef, channelID domain.ChannelID, notifiee Notifiee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state[ref]; ok {
		return
	}
	s.state[ref] = &channelCredit{channelID: channelID, notifiee: notifiee}
}

func (s *Simple) Unregister(ref Ref, _ chanref.ProcessRef, _ domain.ChannelID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, ref)
}

// CanSend consumes one unit of credit if the channel is limited, returning
// false (and leaving credit untouched) once it is exhausted.
func (s *Simple) CanSend(ref Ref, _ chanref.ProcessRef, _ bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.state[ref]
	if !ok || !cc.limited {
		return true
	}
	if cc.credit <= 0 {
		return false
	}
	cc.credit--
	return true
}

// SetCredit caps ref at n outstanding sends before CanSend starts
// returning false. n <= 0 removes the cap.
func (s *Simple) SetCredit(ref Ref, n int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc, ok := s.state[ref]
	if !ok {
		return
	}
	if n <= 0 {
		cc.limited = false
	} else {
		cc.limited = true
		cc.credit = n
	}
}

// Ack implements Limiter.Ack by replenishing count units of credit.
func (s *Simple) Ack(ref Ref, _ chanref.ProcessRef, count int32) {
	if count <= 0 {
		return
	}
	s.Replenish(ref, count)
}

// Replenish adds n units of credit back (e.g. on ack) and, if the channel
// was blocked and now has credit again, notifies it via Unblock.
func (s *Simple) Replenish(ref Ref, n int32) {
	s.mu.Lock()
	cc, ok := s.state[ref]
	if !ok {
		s.mu.Unlock()
		return
	}
	wasExhausted := cc.limited && cc.credit <= 0
	cc.credit += n
	notify := wasExhausted && cc.credit > 0
	var channelID domain.ChannelID
	var notifiee Notifiee
	if notify {
		channelID = cc.channelID
		notifiee = cc.notifiee
	}
	s.mu.Unlock()
	if notify && notifiee != nil {
		notifiee.Unblock(channelID)
	}
}
