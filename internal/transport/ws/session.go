package ws

import (
	"encoding/json"
	"sync/atomic"

	"realmshard.io/internal/protocol"
	"realmshard.io/internal/sim/sched"
)

type outbound struct {
	binary bool
	b      []byte
}

// session is one connection. pending, closed, posSeq and dropped belong to the tick
// goroutine; out is drained by the connection's writer goroutine.
type session struct {
	id      string
	actorID string
	binary  bool
	limiter *sched.RateLimiter

	out     chan outbound
	pending []outbound
	posSeq  uint16
	dropped int

	bootReason string
	booting    bool
	closed     bool

	// gone is set by the connection goroutine once the socket is finished.
	gone atomic.Bool
}

func newSession(actorID string, queue int, binary bool, limiter *sched.RateLimiter) *session {
	return &session{
		id:      newSessionID(),
		actorID: actorID,
		binary:  binary,
		limiter: limiter,
		out:     make(chan outbound, queue),
	}
}

func (s *session) queueJSON(v any) {
	if s.closed || s.booting {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.pending = append(s.pending, outbound{b: b})
}

func (s *session) queueBinary(b []byte) {
	if s.closed || s.booting {
		return
	}
	s.pending = append(s.pending, outbound{binary: true, b: b})
}

// flush moves pending output to the writer and returns how many messages it dropped
// because the writer fell behind.
func (s *session) flush() int {
	if s.closed {
		return 0
	}
	dropped := 0
	for _, m := range s.pending {
		select {
		case s.out <- m:
		default:
			dropped++
		}
	}
	s.pending = s.pending[:0]
	s.dropped += dropped
	if s.booting {
		s.close(s.bootReason)
	}
	return dropped
}

func (s *session) close(reason string) {
	if s.closed {
		return
	}
	if reason != "" {
		s.bootReason = reason
	}
	s.closed = true
	close(s.out)
}

// SystemChat implements players.Session.
func (s *session) SystemChat(text string) {
	ev := protocol.NewEvent(protocol.EventSystemChat, s.actorID)
	ev.Text = text
	s.queueJSON(ev)
}

// Boot implements players.Session. The BOOT message goes out with the next flush and
// the connection is closed after it.
func (s *session) Boot(reason string) {
	if s.closed || s.booting {
		return
	}
	s.queueJSON(protocol.BootMsg{Type: protocol.TypeBoot, ProtocolVersion: protocol.Version, Reason: reason})
	s.bootReason = reason
	s.booting = true
}
