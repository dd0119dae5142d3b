package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"realmshard.io/internal/protocol"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		character = flag.String("character", "bot", "character id")
		name      = flag.String("name", "", "character name (default: character id)")
		account   = flag.Uint("account", 1, "account id")
		token     = flag.String("token", "", "HELLO auth token")
		recall    = flag.String("recall", "lifestone", "recall kind: lifestone, hideout, marketplace")
		every     = flag.Duration("every", 30*time.Second, "how often to recall")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		CharacterID:     *character,
		Name:            *name,
		AccountID:       uint32(*account),
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 64},
	}
	if *token != "" {
		hello.Auth = &protocol.HelloAuth{Token: *token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	// Reader goroutine; all writes stay on this goroutine.
	inbox := make(chan []byte, 64)
	go func() {
		defer close(inbox)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			inbox <- msg
		}
	}()

	b := &bot{conn: conn, logger: logger, recall: *recall, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	recallTick := time.NewTicker(*every)
	defer recallTick.Stop()
	wanderTick := time.NewTicker(3 * time.Second)
	defer wanderTick.Stop()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			b.handle(msg)
		case <-recallTick.C:
			if b.ready {
				b.sendRecall()
			}
		case <-wanderTick.C:
			if b.ready {
				b.wander()
			}
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	logger *log.Logger
	recall string
	rng    *rand.Rand

	ready bool
	seq   int
}

func (b *bot) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

func (b *bot) send(cmd protocol.CmdMsg) {
	cmd.Type = protocol.TypeCmd
	cmd.ProtocolVersion = protocol.Version
	if err := b.conn.WriteJSON(cmd); err != nil {
		b.logger.Printf("send %s: %v", cmd.Cmd, err)
	}
}

func (b *bot) sendRecall() {
	b.send(protocol.CmdMsg{ID: b.nextID("recall"), Cmd: protocol.CmdRecall, Kind: b.recall})
}

// wander takes a small step inside the current landblock.
func (b *bot) wander() {
	pos := [3]float32{
		float32(8 + b.rng.Intn(176)),
		float32(8 + b.rng.Intn(176)),
		0,
	}
	b.send(protocol.CmdMsg{ID: b.nextID("move"), Cmd: protocol.CmdMove, Pos: pos})
}

func (b *bot) handle(msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return
		}
		b.logger.Printf("WELCOME actor_id=%s home_realm=%d update_hz=%d loc=%s", w.ActorID, w.HomeRealm, w.World.UpdateHz, w.Location)
		b.ready = true
		b.send(protocol.CmdMsg{ID: b.nextID("zone"), Cmd: protocol.CmdZoneInfo})
		b.sendRecall()

	case protocol.TypeAck:
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil {
			return
		}
		if !ack.Accepted {
			b.logger.Printf("ACK %s rejected code=%s msg=%s", ack.AckFor, ack.Code, ack.Message)
		}

	case protocol.TypeEvent:
		var ev protocol.EventMsg
		if err := json.Unmarshal(msg, &ev); err != nil {
			return
		}
		switch ev.Event {
		case protocol.EventSystemChat, protocol.EventBroadcast:
			b.logger.Printf("%s: %s", ev.Event, ev.Text)
		case protocol.EventNotice:
			b.logger.Printf("NOTICE %s", ev.Code)
		case protocol.EventPosition:
			// The client has "loaded" the destination.
			b.logger.Printf("teleporting to %s", ev.Location)
			b.send(protocol.CmdMsg{ID: b.nextID("done"), Cmd: protocol.CmdTeleportComplete})
		}

	case protocol.TypeBoot:
		var boot protocol.BootMsg
		_ = json.Unmarshal(msg, &boot)
		b.logger.Printf("BOOT reason=%s", boot.Reason)
	}
}
