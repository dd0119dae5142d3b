package ws

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"realmshard.io/internal/protocol"
	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
)

func (s *Server) ack(sess *session, id string, accepted bool, code, message string) {
	sess.queueJSON(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Accepted:        accepted,
		Code:            code,
		Message:         message,
		ServerTick:      s.world.CurrentTick(),
	})
}

// dispatch runs a CMD on the tick goroutine.
func (s *Server) dispatch(sess *session, cmd protocol.CmdMsg) {
	if sess.gone.Load() {
		return
	}
	a, ok := s.players.Get(sess.actorID)
	if !ok {
		return
	}
	switch cmd.Cmd {
	case protocol.CmdRecall:
		kind, ok := teleport.ParseRecallKind(cmd.Kind)
		if !ok {
			s.ack(sess, cmd.ID, false, protocol.ErrBadRequest, "unknown recall kind")
			return
		}
		s.ack(sess, cmd.ID, s.tp.Recall(a, kind), "", "")

	case protocol.CmdExitInstance:
		s.ack(sess, cmd.ID, s.tp.ExitInstance(a), "", "")

	case protocol.CmdTeleportComplete:
		s.tp.OnTeleportComplete(a)
		s.ack(sess, cmd.ID, true, "", "")

	case protocol.CmdTeleportTo:
		if !a.IsAdmin() {
			s.ack(sess, cmd.ID, false, protocol.ErrNoPermission, "admin only")
			return
		}
		inst := a.Location.Instance
		if cmd.Instance != 0 {
			inst = spatial.InstanceID(cmd.Instance)
		}
		dest := spatial.New(cmd.Tile, mgl32.Vec3(cmd.Pos), mgl32.QuatIdent(), inst)
		s.ack(sess, cmd.ID, s.tp.Teleport(a, dest, teleport.Options{Kind: "teleport_to"}), "", "")

	case protocol.CmdMapClick:
		if !a.IsPrivileged() {
			s.ack(sess, cmd.ID, false, protocol.ErrNoPermission, "privileged only")
			return
		}
		dest, err := spatial.FromMapClick(cmd.NorthSouth, cmd.EastWest)
		if err != nil {
			s.ack(sess, cmd.ID, false, protocol.ErrBadLocation, err.Error())
			return
		}
		dest.Instance = a.Location.Instance
		s.ack(sess, cmd.ID, s.tp.Teleport(a, dest, teleport.Options{Kind: "map_click"}), "", "")

	case protocol.CmdMove:
		if a.Teleporting {
			s.ack(sess, cmd.ID, false, protocol.ErrBadRequest, "teleport in progress")
			return
		}
		next := a.Location
		if cmd.Tile != 0 {
			next.Tile = spatial.FromRaw(cmd.Tile)
		}
		next.SetPosition(mgl32.Vec3(cmd.Pos))
		if !s.walkTo(a, next) {
			s.ack(sess, cmd.ID, false, protocol.ErrBadLocation, "cannot move there")
			return
		}
		s.ack(sess, cmd.ID, true, "", "")

	case protocol.CmdZoneInfo:
		s.SystemChat(a, s.zoneInfo(a))
		s.ack(sess, cmd.ID, true, "", "")

	default:
		s.ack(sess, cmd.ID, false, protocol.ErrBadRequest, "unknown cmd")
	}
}

// handleFrame applies a client position frame. It is decoded here and applied on the
// tick goroutine.
func (s *Server) handleFrame(sess *session, b []byte) {
	_, p, err := protocol.DecodeFrame(b)
	if err != nil || p == nil {
		return
	}
	s.world.EnqueueInbound(func() {
		if sess.gone.Load() {
			return
		}
		a, ok := s.players.Get(sess.actorID)
		if !ok || a.Teleporting {
			return
		}
		p.Instance = a.Location.Instance
		if !spatial.IsRotationValid(p.Rot) {
			p.Rot = a.Location.Rot
		}
		if !s.walkTo(a, *p) {
			s.log.Printf("frame rejected actor=%s at=%s to=%s", a.ID, a.Location.LOCString(), p.LOCString())
		}
	})
}

// walkTo applies a client-driven move. Walking may only step into a neighboring
// landblock, and a new landblock must pass the same rules as a teleport. On rejection
// the location is left unchanged.
func (s *Server) walkTo(a *teleport.Actor, next spatial.Position) bool {
	cur := a.Location
	if next.Landblock() != cur.Landblock() {
		if !neighbors(cur.Tile, next.Tile) {
			return false
		}
		if s.tp != nil && !a.IsAdmin() && !s.tp.ValidatePosition(a, next) {
			return false
		}
	}
	a.Location = next
	s.moved(a)
	return true
}

func neighbors(a, b spatial.TileAddress) bool {
	dx := int(a.X()) - int(b.X())
	dy := int(a.Y()) - int(b.Y())
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

func (s *Server) moved(a *teleport.Actor) {
	if s.parts != nil {
		s.parts.Move(a.ID, partition.KeyOf(a.Location))
	}
}

func (s *Server) zoneInfo(a *teleport.Actor) string {
	ephemeral, realmID, short := a.Location.Instance.Parse()
	r, ok := s.realms.Realm(realmID)
	if !ok {
		return fmt.Sprintf("Realm %d (unknown) instance %d", realmID, short)
	}
	return fmt.Sprintf("Realm %s (%d) instance %d ephemeral=%v recalls=%v pk_only=%v neutral=%v",
		r.Name, r.ID, short, ephemeral, r.Rules.HasRecalls, r.Rules.IsPKOnly, r.Rules.IsNeutralZone)
}
