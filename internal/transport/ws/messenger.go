package ws

import (
	"realmshard.io/internal/protocol"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
)

// The Messenger methods run on the tick goroutine and only queue output; it goes out
// on the next DoSessionWork.

func (s *Server) event(a *teleport.Actor, kind string, fill func(*protocol.EventMsg)) {
	sess, ok := s.sessions[a.ID]
	if !ok {
		return
	}
	ev := protocol.NewEvent(kind, a.ID)
	if fill != nil {
		fill(&ev)
	}
	sess.queueJSON(ev)
}

func (s *Server) SystemChat(a *teleport.Actor, text string) {
	s.event(a, protocol.EventSystemChat, func(ev *protocol.EventMsg) { ev.Text = text })
}

func (s *Server) Notice(a *teleport.Actor, code teleport.Notice) {
	s.event(a, protocol.EventNotice, func(ev *protocol.EventMsg) { ev.Code = string(code) })
}

// Broadcast reaches every online actor on the same landblock of the same instance.
func (s *Server) Broadcast(a *teleport.Actor, text string) {
	for id, sess := range s.sessions {
		other, ok := s.players.Get(id)
		if !ok {
			continue
		}
		if other.Location.Instance != a.Location.Instance || other.Location.Landblock() != a.Location.Landblock() {
			continue
		}
		ev := protocol.NewEvent(protocol.EventBroadcast, a.ID)
		ev.Text = text
		sess.queueJSON(ev)
	}
}

func (s *Server) Motion(a *teleport.Actor, motion string) {
	s.event(a, protocol.EventMotion, func(ev *protocol.EventMsg) { ev.Motion = motion })
}

func (s *Server) TeleportStarted(a *teleport.Actor) {
	s.event(a, protocol.EventTeleportStart, func(ev *protocol.EventMsg) { ev.Location = a.Location.LOCString() })
}

// UpdatePosition uses a binary frame for sessions that asked for them.
func (s *Server) UpdatePosition(a *teleport.Actor, p spatial.Position) {
	sess, ok := s.sessions[a.ID]
	if !ok {
		return
	}
	if sess.binary {
		sess.posSeq++
		sess.queueBinary(protocol.AppendPositionFrame(nil, sess.posSeq, p, 0, 0))
		return
	}
	ev := protocol.NewEvent(protocol.EventPosition, a.ID)
	ev.Location = p.LOCString()
	sess.queueJSON(ev)
}

func (s *Server) UpdatePhysics(a *teleport.Actor, st teleport.PhysicsState) {
	s.event(a, protocol.EventPhysics, func(ev *protocol.EventMsg) {
		ev.Physics = &protocol.Physics{
			Hidden:           st.Hidden,
			IgnoreCollisions: st.IgnoreCollisions,
			ReportCollisions: st.ReportCollisions,
		}
	})
}

func (s *Server) UpdatePKStatus(a *teleport.Actor, pk bool) {
	s.event(a, protocol.EventPKStatus, func(ev *protocol.EventMsg) { ev.PK = &pk })
}
