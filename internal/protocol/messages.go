package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	CharacterID     string            `json:"character_id"`
	Name            string            `json:"name,omitempty"`
	AccountID       uint32            `json:"account_id"`
	Capabilities    HelloCapabilities `json:"capabilities"`
	Auth            *HelloAuth        `json:"auth,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue       int  `json:"max_queue,omitempty"`
	BinaryPosition bool `json:"binary_position,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client), sent once the character is loaded and placed.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	ActorID         string      `json:"actor_id"`
	HomeRealm       uint16      `json:"home_realm"`
	Location        string      `json:"location"`
	World           WorldParams `json:"world"`
}

type WorldParams struct {
	UpdateHz int    `json:"update_hz"`
	Status   string `json:"status"`
}

// Command names carried by CMD.
const (
	CmdRecall           = "RECALL"
	CmdExitInstance     = "EXIT_INSTANCE"
	CmdTeleportComplete = "TELEPORT_COMPLETE"
	CmdTeleportTo       = "TELEPORT_TO"
	CmdMapClick         = "MAP_CLICK"
	CmdMove             = "MOVE"
	CmdZoneInfo         = "ZONE_INFO"
)

// CMD (client -> server)
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Cmd             string `json:"cmd"`

	// RECALL
	Kind string `json:"kind,omitempty"`
	// TELEPORT_TO: a raw tile id, local coordinates and an instance.
	Tile     uint32     `json:"tile,omitempty"`
	Pos      [3]float32 `json:"pos,omitempty"`
	Instance uint32     `json:"instance,omitempty"`
	// MAP_CLICK: map fraction coordinates.
	NorthSouth float32 `json:"ns,omitempty"`
	EastWest   float32 `json:"ew,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}

// Event kinds carried by EVENT.
const (
	EventSystemChat    = "SYSTEM_CHAT"
	EventBroadcast     = "BROADCAST"
	EventNotice        = "NOTICE"
	EventMotion        = "MOTION"
	EventTeleportStart = "TELEPORT_START"
	EventPosition      = "POSITION"
	EventPhysics       = "PHYSICS"
	EventPKStatus      = "PK_STATUS"
)

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Event           string `json:"event"`
	ActorID         string `json:"actor_id"`

	Text     string   `json:"text,omitempty"`
	Code     string   `json:"code,omitempty"`
	Motion   string   `json:"motion,omitempty"`
	Location string   `json:"location,omitempty"`
	Physics  *Physics `json:"physics,omitempty"`
	PK       *bool    `json:"pk,omitempty"`
}

type Physics struct {
	Hidden           bool `json:"hidden"`
	IgnoreCollisions bool `json:"ignore_collisions"`
	ReportCollisions bool `json:"report_collisions"`
}

// BOOT (server -> client), followed by a close.
type BootMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Reason          string `json:"reason"`
}

func NewEvent(event, actorID string) EventMsg {
	return EventMsg{Type: TypeEvent, ProtocolVersion: Version, Event: event, ActorID: actorID}
}
