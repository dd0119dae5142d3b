package teleport

import (
	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/spatial"
)

// EnterWorld places a freshly loaded actor into the world, repairing locations that
// are no longer permitted. It must run on the tick goroutine.
func (t *Teleporter) EnterWorld(a *Actor) {
	a.Offline = false
	if a.HomeRealm > spatial.MaxRealmID {
		t.logger.Printf("login actor=%s home realm %d out of range, using 0", a.ID, a.HomeRealm)
		a.HomeRealm = 0
	}

	if !a.IsPrivileged() && t.cfg.NoLog != nil && t.cfg.NoLog(a.Location.Landblock()) {
		drop := t.homeDrop(a)
		t.logger.Printf("login actor=%s on no-log landblock %04X, moving to %s", a.ID, a.Location.Landblock(), drop.LOCString())
		a.Location = drop
	}

	if !t.ValidatePosition(a, a.Location) && !a.IsAdmin() {
		if a.EphemeralExitTo != nil {
			t.msg.SystemChat(a, "The instance you were in has expired and you have been transported outside!")
			t.parts.Move(a.ID, partition.KeyOf(a.Location))
			t.ExitInstance(a)
			return
		}
		t.msg.SystemChat(a, "You have been transported back to your home realm.")
		a.Location = t.inHomeRealm(a, a.Location)
		a.EphemeralExitTo = nil
	}
	t.parts.Move(a.ID, partition.KeyOf(a.Location))
}
