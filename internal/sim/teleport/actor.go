package teleport

import (
	"time"

	"realmshard.io/internal/sim/spatial"
)

// Role is the actor's capability tag.
type Role uint8

const (
	RolePlayer Role = iota
	RoleSentinel
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleSentinel:
		return "sentinel"
	case RoleAdmin:
		return "admin"
	default:
		return "player"
	}
}

// State is the teleport state machine position of an actor.
type State uint8

const (
	Idle State = iota
	AnimationDelay
	Validating
	CrossRealmTransition
	Materializing
)

func (s State) String() string {
	switch s {
	case AnimationDelay:
		return "animation_delay"
	case Validating:
		return "validating"
	case CrossRealmTransition:
		return "cross_realm_transition"
	case Materializing:
		return "materializing"
	default:
		return "idle"
	}
}

type CombatMode uint8

const (
	NonCombat CombatMode = iota
	Melee
	Missile
	Magic
)

// PhysicsState is the subset of physics flags the teleport path toggles.
type PhysicsState struct {
	Hidden           bool `json:"hidden"`
	IgnoreCollisions bool `json:"ignore_collisions"`
	ReportCollisions bool `json:"report_collisions"`
}

// Actor is a connected character. It is owned by the tick goroutine.
type Actor struct {
	ID        string
	Name      string
	AccountID uint32
	Role      Role
	HomeRealm uint16

	Location spatial.Position
	// Sanctuary is the attuned lifestone drop, nil when never attuned.
	Sanctuary *spatial.Position
	// Home is the starting location used when there is no sanctuary.
	Home spatial.Position
	// EphemeralExitTo is where ExitInstance returns to.
	EphemeralExitTo *spatial.Position

	FellowshipID string
	Scale        float32

	RecallsDisabled bool
	Cloaked         bool
	PKTimerUntil    time.Time
	CombatMode      CombatMode
	PlayerKiller    bool

	IsBusy      bool
	Teleporting bool
	State       State
	Physics     PhysicsState
	// Offline is set when the actor leaves the world. Queued teleport work for an
	// offline actor is dropped.
	Offline bool

	LastTeleport          time.Time
	LastTeleportStart     time.Time
	LastTeleportEnd       time.Time
	LastPortalTeleport    time.Time
	LastPortalTeleportEnd time.Time

	teleportSeq uint64
	teleportID  string
	polls       int
	pollPending bool
}

func NewActor(id, name string, accountID uint32, home uint16, loc spatial.Position) *Actor {
	return &Actor{
		ID:        id,
		Name:      name,
		AccountID: accountID,
		HomeRealm: home,
		Location:  loc,
		Home:      loc,
		Scale:     1,
		Physics:   PhysicsState{ReportCollisions: true},
	}
}

func (a *Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsPrivileged covers sentinels and admins.
func (a *Actor) IsPrivileged() bool { return a.Role == RoleSentinel || a.Role == RoleAdmin }

func (a *Actor) PKTimerActive(now time.Time) bool { return now.Before(a.PKTimerUntil) }

// TooBusyToRecall is true while a recall or teleport is already in flight.
func (a *Actor) TooBusyToRecall() bool { return a.IsBusy || a.Teleporting || a.State != Idle }

func (a *Actor) scale() float32 {
	if a.Scale <= 0 {
		return 1
	}
	return a.Scale
}
