package teleport

import (
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/sched"
	"realmshard.io/internal/sim/spatial"
)

// World is the tick loop as seen by the teleport path.
type World interface {
	sched.Scheduler
	Now() time.Time
}

// Resolver is the realm-policy lookup.
type Resolver interface {
	Realm(id uint16) (*realms.Realm, bool)
	ReservedKind(id uint16) (realms.Kind, bool)
	ByKind(k realms.Kind) (*realms.Realm, bool)
}

// Partitions is the world-partition manager as seen by the teleport path.
type Partitions interface {
	EnsureLoaded(k partition.Key) *partition.Landblock
	IsReady(k partition.Key) bool
	Move(actorID string, to partition.Key)
	Instance(id spatial.InstanceID) (*partition.Instance, bool)
}

// Directory answers fellowship membership for other actors.
type Directory interface {
	FellowshipOf(actorID string) string
}

// Notice is a typed, client-localized error code.
type Notice string

const (
	NoticePKTimer         Notice = "YouHaveBeenInPKBattleTooRecently"
	NoticeRecallsDisabled Notice = "RecallsDisabled"
	NoticeTooBusy         Notice = "YoureTooBusy"
	NoticeMovedTooFar     Notice = "YouHaveMovedTooFar"
)

// Messenger is the outbound session layer.
type Messenger interface {
	SystemChat(a *Actor, text string)
	Notice(a *Actor, code Notice)
	// Broadcast sends text to everyone near a.
	Broadcast(a *Actor, text string)
	Motion(a *Actor, motion string)
	TeleportStarted(a *Actor)
	UpdatePosition(a *Actor, p spatial.Position)
	UpdatePhysics(a *Actor, s PhysicsState)
	UpdatePKStatus(a *Actor, pk bool)
}

type Config struct {
	// MoveTooFar is the distance an actor may drift during a recall animation.
	MoveTooFar          float32
	ZNudge              float32
	MaterializePoll     time.Duration
	MaterializeMaxPolls int
	Animations          map[RecallKind]time.Duration
	HideoutLandblocks   []uint16
	// NoLog reports landblocks non-privileged actors may not log in to.
	NoLog func(landblock uint16) bool
}

func DefaultConfig() Config {
	return Config{
		MoveTooFar:          8,
		ZNudge:              0.005,
		MaterializePoll:     100 * time.Millisecond,
		MaterializeMaxPolls: 300,
		Animations: map[RecallKind]time.Duration{
			RecallLifestone:   9300 * time.Millisecond,
			RecallHideout:     9300 * time.Millisecond,
			RecallMarketplace: 14 * time.Second,
		},
		HideoutLandblocks: []uint16{0x7308, 0x7309},
	}
}

// Options tune a single Teleport call.
type Options struct {
	// FromInstance is set by ExitInstance so the move does not route through it again.
	FromInstance bool
	FromPortal   bool
	Kind         string
}

type Teleporter struct {
	cfg     Config
	logger  *log.Logger
	world   World
	realms  Resolver
	parts   Partitions
	msg     Messenger
	dir     Directory
	journal Logger
}

func New(cfg Config, w World, r Resolver, p Partitions, m Messenger, dir Directory, logger *log.Logger) *Teleporter {
	d := DefaultConfig()
	if cfg.MoveTooFar <= 0 {
		cfg.MoveTooFar = d.MoveTooFar
	}
	if cfg.MaterializePoll <= 0 {
		cfg.MaterializePoll = d.MaterializePoll
	}
	if cfg.MaterializeMaxPolls <= 0 {
		cfg.MaterializeMaxPolls = d.MaterializeMaxPolls
	}
	if cfg.Animations == nil {
		cfg.Animations = d.Animations
	}
	if cfg.HideoutLandblocks == nil {
		cfg.HideoutLandblocks = d.HideoutLandblocks
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Teleporter{cfg: cfg, logger: logger, world: w, realms: r, parts: p, msg: m, dir: dir}
}

func (t *Teleporter) SetLogger(l Logger) { t.journal = l }

// ThreadSafeTeleport hands the move to the tick goroutine; then, if set, runs after it.
// It is the entry point for goroutines other than the tick goroutine.
func (t *Teleporter) ThreadSafeTeleport(a *Actor, dest spatial.Position, opts Options, then sched.Action) {
	t.world.EnqueueAction(func() {
		if a.Offline {
			return
		}
		t.Teleport(a, dest, opts)
		if then != nil {
			t.world.EnqueueAction(then)
		}
	})
}

// Teleport validates and commits a move to dest. It must run on the tick goroutine.
// It reports whether the move was committed.
func (t *Teleporter) Teleport(a *Actor, dest spatial.Position, opts Options) bool {
	if a.Offline {
		t.logger.Printf("teleport dropped actor=%s to=%s reason=offline", a.ID, dest.LOCString())
		return false
	}
	leaving := a.Location.IsEphemeral() && dest.Instance != a.Location.Instance
	if leaving && !opts.FromInstance && t.ExitInstance(a) {
		return false
	}
	if opts.Kind == "" {
		opts.Kind = "teleport"
	}
	id := uuid.NewString()
	from := a.Location
	prevState := a.State
	a.State = Validating

	destRealm, ok := t.realms.Realm(dest.RealmID())
	if !ok {
		t.msg.SystemChat(a, "Error: Realm at destination location does not exist.")
		return t.deny(a, prevState, id, opts.Kind, from, dest, "realm_missing")
	}
	if !t.ValidatePosition(a, dest) {
		if !a.IsAdmin() {
			t.msg.SystemChat(a, "Unable to teleport to that realm.")
			return t.deny(a, prevState, id, opts.Kind, from, dest, "realm_restricted")
		}
		t.msg.SystemChat(a, "Admin bypassing realm restriction.")
	}

	dest = dest.WithZ(dest.Z() + t.cfg.ZNudge*a.scale())

	if dest.Instance != a.Location.Instance {
		a.State = CrossRealmTransition
		t.transitionRealm(a, destRealm, dest)
	}

	now := t.world.Now()
	a.State = Materializing
	a.Teleporting = true
	a.LastTeleport = now
	a.LastTeleportStart = now
	if opts.FromPortal {
		a.LastPortalTeleport = now
	}
	a.teleportSeq++
	a.teleportID = id
	a.polls = 0
	a.pollPending = false

	t.msg.TeleportStarted(a)

	// Publish the destination early so the client starts loading, then restore.
	prev := a.Location
	a.Location = dest
	t.msg.UpdatePosition(a, a.Location)
	a.Location = prev

	t.phaseIn(a)
	t.commit(a, dest)

	t.logger.Printf("teleport actor=%s kind=%s from=%s to=%s", a.ID, opts.Kind, from.LOCString(), dest.LOCString())
	t.record(Entry{ID: id, ActorID: a.ID, Kind: opts.Kind, From: from, To: dest, Result: ResultOK})

	seq := a.teleportSeq
	t.world.EnqueueAction(func() { t.tryMaterialize(a, seq) })
	return true
}

func (t *Teleporter) deny(a *Actor, prev State, id, kind string, from, to spatial.Position, reason string) bool {
	a.State = prev
	t.logger.Printf("teleport denied actor=%s kind=%s to=%s reason=%s", a.ID, kind, to.LOCString(), reason)
	t.record(Entry{ID: id, ActorID: a.ID, Kind: kind, From: from, To: to, Result: ResultDenied, Reason: reason})
	return false
}

func (t *Teleporter) phaseIn(a *Actor) {
	next := PhysicsState{Hidden: true, IgnoreCollisions: true, ReportCollisions: false}
	if next != a.Physics {
		a.Physics = next
		t.msg.UpdatePhysics(a, a.Physics)
	}
}

func (t *Teleporter) commit(a *Actor, dest spatial.Position) {
	a.Location = dest
	t.parts.Move(a.ID, partition.KeyOf(dest))
}

// transitionRealm applies the side effects of changing instance: the ephemeral return
// point, the PK status of the destination and a context notice.
func (t *Teleporter) transitionRealm(a *Actor, destRealm *realms.Realm, dest spatial.Position) {
	cur := a.Location
	if dest.IsEphemeral() && !cur.IsEphemeral() {
		exit := cur
		a.EphemeralExitTo = &exit
	} else if !dest.IsEphemeral() {
		a.EphemeralExitTo = nil
	}

	pk := destRealm.Rules.IsPKOnly
	if dest.IsEphemeral() {
		if in, ok := t.parts.Instance(dest.Instance); ok && (in.IsDuel || in.IsPkOnly) {
			pk = true
		}
	}
	a.PlayerKiller = pk
	t.msg.UpdatePKStatus(a, pk)

	home := t.homeRealm(a)
	switch {
	case dest.IsEphemeral():
		t.msg.SystemChat(a, "Entering ephemeral instance. Type /exiti to leave instantly. Type /zoneinfo to view zone properties.")
	case cur.IsEphemeral():
		t.msg.SystemChat(a, "Leaving instance and returning to realm "+destRealm.Name+".")
	case cur.RealmID() == home && destRealm.ID != home:
		t.msg.SystemChat(a, "You are temporarily leaving your home realm. Some actions may be restricted and your corpse will appear at your hideout if you die.")
	case cur.RealmID() != home && destRealm.ID == home:
		t.msg.SystemChat(a, "Returning to home realm.")
	default:
		t.msg.SystemChat(a, "Switching from realm "+t.realmName(cur.RealmID())+" to "+destRealm.Name+".")
	}
}

// OnTeleportComplete is the client's "done loading" signal. Materialization still waits
// for the destination landblock.
func (t *Teleporter) OnTeleportComplete(a *Actor) {
	t.tryMaterialize(a, a.teleportSeq)
}

func (t *Teleporter) tryMaterialize(a *Actor, seq uint64) {
	if a.Offline || a.State != Materializing || a.teleportSeq != seq || a.pollPending {
		return
	}
	if !t.parts.IsReady(partition.KeyOf(a.Location)) {
		a.polls++
		if a.polls < t.cfg.MaterializeMaxPolls {
			a.pollPending = true
			t.world.EnqueueDelayed(t.cfg.MaterializePoll, func() {
				if a.Offline || a.teleportSeq != seq {
					return
				}
				a.pollPending = false
				t.tryMaterialize(a, seq)
			})
			return
		}
		t.logger.Printf("teleport materialize forced actor=%s at=%s polls=%d", a.ID, a.Location.LOCString(), a.polls)
		t.record(Entry{ID: a.teleportID, ActorID: a.ID, Kind: "materialize", To: a.Location, Result: ResultForced, Reason: "landblock_not_ready"})
	}
	t.materialize(a)
}

func (t *Teleporter) materialize(a *Actor) {
	a.Physics.ReportCollisions = !a.Cloaked
	a.Physics.IgnoreCollisions = false
	a.Physics.Hidden = false
	a.Teleporting = false
	a.State = Idle
	t.msg.UpdatePhysics(a, a.Physics)

	now := t.world.Now()
	a.LastTeleportEnd = now
	if a.LastTeleportStart.Equal(a.LastPortalTeleport) {
		a.LastPortalTeleportEnd = now
	}
}

// ExitInstance returns an actor in an ephemeral instance to its recorded exit point,
// or to its sanctuary when that point is no longer permitted.
func (t *Teleporter) ExitInstance(a *Actor) bool {
	if !a.Location.IsEphemeral() {
		t.msg.SystemChat(a, "You are not in an instance!")
		return false
	}
	var dest spatial.Position
	if a.EphemeralExitTo != nil && t.ValidatePosition(a, *a.EphemeralExitTo) {
		dest = *a.EphemeralExitTo
	} else {
		dest = t.homeDrop(a)
	}
	t.ThreadSafeTeleport(a, dest, Options{FromInstance: true, Kind: "exit_instance"}, func() {
		a.EphemeralExitTo = nil
	})
	return true
}

// TeleportToHomeRealm sends the actor to its sanctuary (or home) in its home realm.
func (t *Teleporter) TeleportToHomeRealm(a *Actor) bool {
	return t.Teleport(a, t.homeDrop(a), Options{Kind: "home_realm"})
}

// ValidateCurrentRealm moves a non-admin actor home if its location is no longer permitted.
func (t *Teleporter) ValidateCurrentRealm(a *Actor) {
	if a.IsAdmin() {
		return
	}
	if !t.ValidatePosition(a, a.Location) {
		t.TeleportToHomeRealm(a)
	}
}

// homeRealm is the actor's home realm id; out-of-range values read as 0. It does not
// touch the actor. EnterWorld persists the repair.
func (t *Teleporter) homeRealm(a *Actor) uint16 {
	if a.HomeRealm > spatial.MaxRealmID {
		return 0
	}
	return a.HomeRealm
}

// homeInstance is the instance a location resolves to in the actor's home realm. The
// reserved default realm gives every account its own instance.
func (t *Teleporter) homeInstance(a *Actor) spatial.InstanceID {
	home := t.homeRealm(a)
	if k, ok := t.realms.ReservedKind(home); ok && k == realms.Default {
		return spatial.NewInstanceID(home, uint16(a.AccountID), false)
	}
	return spatial.DefaultInstance(home)
}

func (t *Teleporter) inHomeRealm(a *Actor, p spatial.Position) spatial.Position {
	p.Instance = t.homeInstance(a)
	return p
}

func (t *Teleporter) homeDrop(a *Actor) spatial.Position {
	if a.Sanctuary != nil {
		return t.inHomeRealm(a, *a.Sanctuary)
	}
	return t.inHomeRealm(a, a.Home)
}

func (t *Teleporter) realmName(id uint16) string {
	if r, ok := t.realms.Realm(id); ok {
		return r.Name
	}
	return "unknown"
}

func (t *Teleporter) record(e Entry) {
	if t.journal == nil {
		return
	}
	if e.UnixMs == 0 {
		e.UnixMs = t.world.Now().UnixMilli()
	}
	e.Normalize()
	if err := t.journal.WriteTeleport(e); err != nil {
		t.logger.Printf("teleport journal write failed id=%s err=%v", e.ID, err)
	}
}
