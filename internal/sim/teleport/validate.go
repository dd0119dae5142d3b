package teleport

import (
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/spatial"
)

// ValidatePosition reports whether a may be at dest under realm and instance rules.
// It has no side effects.
func (t *Teleporter) ValidatePosition(a *Actor, dest spatial.Position) bool {
	destRealm, ok := t.realms.Realm(dest.RealmID())
	if !ok {
		return false
	}
	short := dest.Instance.Short()

	if kind, reserved := t.realms.ReservedKind(destRealm.ID); reserved {
		switch kind {
		case realms.Default:
			if k, ok := t.realms.ReservedKind(t.homeRealm(a)); !ok || k != realms.Default {
				return false
			}
			if uint32(short) != a.AccountID {
				return false
			}
		case realms.Hideout:
			if uint32(short) != a.AccountID {
				return false
			}
			home, ok := t.realms.Realm(t.homeRealm(a))
			if !ok || !home.Rules.HideoutEnabled {
				return false
			}
			if !t.isHideoutLandblock(dest.Landblock()) {
				return false
			}
		default:
			return false
		}
	}

	if !destRealm.IsWhitelistedLandblock(dest.Landblock()) {
		return false
	}

	if dest.IsEphemeral() {
		in, ok := t.parts.Instance(dest.Instance)
		if !ok {
			return false
		}
		if in.Owner == a.ID || in.IsAllowed(a.ID) {
			return true
		}
		if in.OpenToFellowship && a.FellowshipID != "" && t.dir != nil && t.dir.FellowshipOf(in.Owner) == a.FellowshipID {
			return true
		}
		return false
	}

	if _, reserved := t.realms.ReservedKind(destRealm.ID); reserved {
		return true
	}
	home, ok := t.realms.Realm(t.homeRealm(a))
	if ok && home.Rules.CanInteractWithNeutralZone && destRealm.Rules.IsNeutralZone {
		return true
	}
	return destRealm.ID == t.homeRealm(a)
}

func (t *Teleporter) isHideoutLandblock(lb uint16) bool {
	for _, h := range t.cfg.HideoutLandblocks {
		if h == lb {
			return true
		}
	}
	return false
}
