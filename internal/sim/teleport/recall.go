package teleport

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/sched"
	"realmshard.io/internal/sim/spatial"
)

// RecallKind names a user-initiated recall with an animation delay.
type RecallKind string

const (
	RecallLifestone   RecallKind = "lifestone"
	RecallHideout     RecallKind = "hideout"
	RecallMarketplace RecallKind = "marketplace"
)

func ParseRecallKind(s string) (RecallKind, bool) {
	switch k := RecallKind(s); k {
	case RecallLifestone, RecallHideout, RecallMarketplace:
		return k, true
	}
	return "", false
}

var (
	hideoutDrop = spatial.New(0x7308001F,
		mgl32.Vec3{80, 163.4, 12.004999},
		mgl32.Quat{W: 0.8942394, V: mgl32.Vec3{0, 0, 0.4475889}}, 0)
	marketplaceDrop = spatial.New(0x016C01BC,
		mgl32.Vec3{49.206, -31.935, 0.005},
		mgl32.Quat{W: 0.707107, V: mgl32.Vec3{0, 0, -0.707107}}, 0)
)

var recallMotion = map[RecallKind]string{
	RecallLifestone:   "LifestoneRecall",
	RecallHideout:     "HouseRecall",
	RecallMarketplace: "MarketplaceRecall",
}

// Recall starts a recall of the given kind: checks, peace mode, a broadcast and motion
// cue, then the animation delay and the teleport. It reports whether a recall started.
func (t *Teleporter) Recall(a *Actor, kind RecallKind) bool {
	if a.Offline {
		return false
	}
	cur, ok := t.realms.Realm(a.Location.RealmID())
	if !ok || !cur.Rules.HasRecalls {
		return false
	}
	now := t.world.Now()
	if a.PKTimerActive(now) {
		t.msg.Notice(a, NoticePKTimer)
		return false
	}
	if a.RecallsDisabled {
		t.msg.Notice(a, NoticeRecallsDisabled)
		return false
	}
	if a.TooBusyToRecall() {
		t.msg.Notice(a, NoticeTooBusy)
		return false
	}

	dest, ok := t.recallDestination(a, kind)
	if !ok {
		return false
	}
	if _, ok := t.realms.Realm(dest.RealmID()); !ok {
		t.msg.SystemChat(a, "Error: Realm at destination location does not exist.")
		return false
	}

	if a.CombatMode != NonCombat {
		a.CombatMode = NonCombat
	}
	t.msg.Broadcast(a, t.recallAnnouncement(a, kind))
	t.msg.Motion(a, recallMotion[kind])
	a.IsBusy = true
	a.State = AnimationDelay

	start := a.Location
	id := uuid.NewString()
	limit := t.cfg.MoveTooFar * t.cfg.MoveTooFar
	sched.NewChain().
		Delay("animation", t.cfg.Animations[kind]).
		Check("distance", func() bool {
			if a.Offline {
				return false
			}
			a.IsBusy = false
			if start.SquaredDistance(a.Location) > limit {
				a.State = Idle
				t.msg.Notice(a, NoticeMovedTooFar)
				t.record(Entry{ID: id, ActorID: a.ID, Kind: string(kind), From: start, To: dest, Result: ResultAborted, Reason: "moved_too_far"})
				return false
			}
			a.State = Idle
			return true
		}).
		Then("teleport", func() {
			if a.Offline {
				return
			}
			t.Teleport(a, dest, Options{Kind: string(kind)})
		}).
		Start(t.world)
	return true
}

func (t *Teleporter) recallDestination(a *Actor, kind RecallKind) (spatial.Position, bool) {
	switch kind {
	case RecallLifestone:
		if a.Sanctuary == nil {
			t.msg.SystemChat(a, "Your spirit has not been attuned to a sanctuary location.")
			return spatial.Position{}, false
		}
		return t.inHomeRealm(a, *a.Sanctuary), true
	case RecallHideout:
		hideout, ok := t.realms.ByKind(realms.Hideout)
		if !ok || a.AccountID > 0xFFFF {
			t.msg.SystemChat(a, "Unable to teleport to hideout.")
			return spatial.Position{}, false
		}
		p := hideoutDrop
		p.Instance = spatial.NewInstanceID(hideout.ID, uint16(a.AccountID), false)
		return p, true
	case RecallMarketplace:
		return t.inHomeRealm(a, marketplaceDrop), true
	}
	return spatial.Position{}, false
}

func (t *Teleporter) recallAnnouncement(a *Actor, kind RecallKind) string {
	switch kind {
	case RecallMarketplace:
		return a.Name + " is going to the Marketplace."
	case RecallHideout:
		return a.Name + " is recalling to the hideout."
	default:
		return a.Name + " is recalling to the lifestone."
	}
}
