package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"realmshard.io/internal/protocol"
	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/sched"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/world"
)

type Config struct {
	// AuthToken, when set, must match HELLO auth.token.
	AuthToken        string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	// DefaultQueue and MaxQueue bound the per-session outbound queue.
	DefaultQueue int
	MaxQueue     int
	// CmdPerSecond caps CMD messages per session.
	CmdPerSecond int
	// Start is where characters without a stored location enter the world.
	Start spatial.Position
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		DefaultQueue:     64,
		MaxQueue:         256,
		CmdPerSecond:     20,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.DefaultQueue <= 0 {
		c.DefaultQueue = d.DefaultQueue
	}
	if c.MaxQueue < c.DefaultQueue {
		c.MaxQueue = c.DefaultQueue
	}
	if c.CmdPerSecond <= 0 {
		c.CmdPerSecond = d.CmdPerSecond
	}
}

// Partitions is the part of the partition manager the session layer moves actors through.
type Partitions interface {
	Move(actorID string, to partition.Key)
	Remove(actorID string)
}

// Stats is safe to read from any goroutine.
type Stats struct {
	Sessions int64
	Dropped  uint64
	Rejected uint64
}

// Server binds websocket connections to online actors. Connection goroutines only
// decode and encode; everything that touches actors runs on the world tick goroutine.
type Server struct {
	cfg     Config
	world   *world.World
	players *players.Registry
	parts   Partitions
	realms  teleport.Resolver
	tp      *teleport.Teleporter
	log     *log.Logger

	upgrader websocket.Upgrader

	// sessions is keyed by actor id and owned by the tick goroutine.
	sessions map[string]*session

	online   atomic.Int64
	dropped  atomic.Uint64
	rejected atomic.Uint64
}

func NewServer(cfg Config, w *world.World, reg *players.Registry, parts Partitions, r teleport.Resolver, logger *log.Logger) *Server {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		cfg:     cfg,
		world:   w,
		players: reg,
		parts:   parts,
		realms:  r,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]*session{},
	}
}

// SetTeleporter attaches the teleporter. The teleporter uses the server as its
// Messenger, so it is built after the server.
func (s *Server) SetTeleporter(tp *teleport.Teleporter) { s.tp = tp }

func (s *Server) Stats() Stats {
	return Stats{Sessions: s.online.Load(), Dropped: s.dropped.Load(), Rejected: s.rejected.Load()}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.online.Add(1)
		defer s.online.Add(-1)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case m, ok := <-sess.out:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, sess.bootReason), time.Now().Add(time.Second))
						_ = conn.Close()
						return
					}
					mt := websocket.TextMessage
					if m.binary {
						mt = websocket.BinaryMessage
					}
					_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
					if err := conn.WriteMessage(mt, m.b); err != nil {
						return
					}
				}
			}
		}()

		s.readLoop(ctx, conn, sess)
		cancel()

		// Cleanup.
		sess.gone.Store(true)
		s.world.EnqueueInbound(func() { s.detach(sess) })
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *session) {
	for ctx.Err() == nil {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			s.handleFrame(sess, msg)
			continue
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeCmd {
			continue
		}
		var cmd protocol.CmdMsg
		if err := json.Unmarshal(msg, &cmd); err != nil {
			continue
		}
		if cmd.ProtocolVersion != protocol.Version {
			s.world.EnqueueInbound(func() { s.ack(sess, cmd.ID, false, protocol.ErrProtoBadRequest, "bad protocol_version") })
			continue
		}
		if !sess.limiter.TryRegister(time.Now()) {
			s.world.EnqueueInbound(func() { s.ack(sess, cmd.ID, false, protocol.ErrRateLimit, "too many commands") })
			continue
		}
		s.world.EnqueueInbound(func() { s.dispatch(sess, cmd) })
	}
}

type joinResult struct {
	welcome protocol.WelcomeMsg
	code    string
	message string
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		s.reject(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		s.reject(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		s.reject(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	hello.CharacterID = strings.TrimSpace(hello.CharacterID)
	if hello.CharacterID == "" {
		s.reject(conn, websocket.ClosePolicyViolation, "missing character_id")
		return nil
	}
	if s.cfg.AuthToken != "" && (hello.Auth == nil || hello.Auth.Token != s.cfg.AuthToken) {
		s.reject(conn, websocket.ClosePolicyViolation, "unauthorized")
		return nil
	}
	if hello.Name == "" {
		hello.Name = hello.CharacterID
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = s.cfg.DefaultQueue
	}
	if maxQ > s.cfg.MaxQueue {
		maxQ = s.cfg.MaxQueue
	}
	sess := newSession(hello.CharacterID, maxQ, hello.Capabilities.BinaryPosition, sched.NewRateLimiter(s.cfg.CmdPerSecond, time.Second))

	respCh := make(chan joinResult, 1)
	s.world.EnqueueInbound(func() { s.join(sess, hello, respCh) })

	var resp joinResult
	select {
	case resp = <-respCh:
	case <-time.After(s.cfg.HandshakeTimeout):
		sess.gone.Store(true)
		s.world.EnqueueInbound(func() { s.detach(sess) })
		s.reject(conn, websocket.CloseTryAgainLater, protocol.ErrWorldBusy)
		return nil
	}
	if resp.code != "" {
		_ = writeJSON(conn, s.cfg.WriteTimeout, protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			AckFor:          "HELLO",
			Code:            resp.code,
			Message:         resp.message,
		})
		s.reject(conn, websocket.ClosePolicyViolation, resp.code)
		return nil
	}

	if err := writeJSON(conn, s.cfg.WriteTimeout, resp.welcome); err != nil {
		sess.gone.Store(true)
		s.world.EnqueueInbound(func() { s.detach(sess) })
		return nil
	}
	s.log.Printf("session open id=%s actor=%s", sess.id, sess.actorID)
	return sess
}

// join runs on the tick goroutine.
func (s *Server) join(sess *session, hello protocol.HelloMsg, respCh chan<- joinResult) {
	if s.world.Status() != world.Open {
		respCh <- joinResult{code: protocol.ErrWorldClosed, message: "world is closed"}
		return
	}
	if _, online := s.players.Get(hello.CharacterID); online {
		respCh <- joinResult{code: protocol.ErrBadRequest, message: "character already online"}
		return
	}
	s.players.Load(s.world, hello.CharacterID, func(c players.Character, found bool, err error) {
		if err != nil {
			s.log.Printf("character load failed id=%s err=%v", hello.CharacterID, err)
			respCh <- joinResult{code: protocol.ErrInternal, message: "character load failed"}
			return
		}
		if sess.gone.Load() {
			return
		}
		if _, online := s.players.Get(hello.CharacterID); online {
			respCh <- joinResult{code: protocol.ErrBadRequest, message: "character already online"}
			return
		}
		if !found {
			c = s.newCharacter(hello)
		}
		a := c.Actor()
		s.sessions[a.ID] = sess
		s.tp.EnterWorld(a)
		s.players.Add(a, sess, s.world.Now())
		respCh <- joinResult{welcome: protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sess.id,
			ActorID:         a.ID,
			HomeRealm:       a.HomeRealm,
			Location:        a.Location.LOCString(),
			World: protocol.WorldParams{
				UpdateHz: s.world.Config().TargetUpdateHz,
				Status:   strings.ToUpper(s.world.Status().String()),
			},
		}}
	})
}

func (s *Server) newCharacter(hello protocol.HelloMsg) players.Character {
	start := s.cfg.Start
	sanct := start
	return players.Character{
		ID:        hello.CharacterID,
		Name:      hello.Name,
		AccountID: hello.AccountID,
		HomeRealm: start.RealmID(),
		Location:  start,
		Home:      start,
		Sanctuary: &sanct,
	}
}

// detach runs on the tick goroutine.
func (s *Server) detach(sess *session) {
	if cur, ok := s.sessions[sess.actorID]; !ok || cur != sess {
		return
	}
	delete(s.sessions, sess.actorID)
	sess.close("")
	s.players.Remove(sess.actorID, s.world.Now())
	if s.parts != nil {
		s.parts.Remove(sess.actorID)
	}
	s.log.Printf("session closed id=%s actor=%s dropped=%d", sess.id, sess.actorID, sess.dropped)
}

// DoSessionWork implements world.Network: it flushes every session's pending output.
func (s *Server) DoSessionWork() int {
	for _, sess := range s.sessions {
		if n := sess.flush(); n > 0 {
			s.dropped.Add(uint64(n))
		}
	}
	return len(s.sessions)
}

func (s *Server) reject(conn *websocket.Conn, code int, reason string) {
	s.rejected.Add(1)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, timeout time.Duration, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func newSessionID() string { return uuid.NewString() }
