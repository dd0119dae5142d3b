package spatial

import "fmt"

// MaxRealmID is the largest realm id that fits the 15-bit realm field.
const MaxRealmID = 0x7FFF

const ephemeralBit = 0x80000000

// InstanceID packs one concrete copy of a location:
// bits 0..15 short instance id, bits 16..30 realm id, bit 31 ephemeral ruleset.
type InstanceID uint32

// NewInstanceID encodes an instance id. A realm id above MaxRealmID is a caller bug
// and panics.
func NewInstanceID(realmID, shortID uint16, ephemeral bool) InstanceID {
	if realmID > MaxRealmID {
		panic(fmt.Sprintf("spatial: realm id %d exceeds %d", realmID, MaxRealmID))
	}
	v := uint32(realmID)<<16 | uint32(shortID)
	if ephemeral {
		v |= ephemeralBit
	}
	return InstanceID(v)
}

// DefaultInstance is the shared, non-ephemeral instance 0 of a realm.
func DefaultInstance(realmID uint16) InstanceID { return NewInstanceID(realmID, 0, false) }

// ParseInstanceID splits a raw instance id.
func ParseInstanceID(raw uint32) (ephemeral bool, realmID, shortID uint16) {
	shortID = uint16(raw & 0xFFFF)
	left := uint16(raw >> 16)
	ephemeral = left&0x8000 != 0
	realmID = left & 0x7FFF
	return ephemeral, realmID, shortID
}

func (id InstanceID) Parse() (ephemeral bool, realmID, shortID uint16) {
	return ParseInstanceID(uint32(id))
}

func (id InstanceID) Realm() uint16   { return uint16(uint32(id)>>16) & 0x7FFF }
func (id InstanceID) Short() uint16   { return uint16(uint32(id) & 0xFFFF) }
func (id InstanceID) Ephemeral() bool { return uint32(id)&ephemeralBit != 0 }
func (id InstanceID) Raw() uint32     { return uint32(id) }
