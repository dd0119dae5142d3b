package spatial

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RotationEpsilon is the allowed deviation from unit length for a valid rotation.
const RotationEpsilon = 1e-4

var ErrBadCoordinates = errors.New("spatial: coordinates outside map range")

// Position is an entity location: a tile address, the instance it lives in, a local
// offset inside the tile and a facing. A Position is owned by one entity and is only
// mutated on the world tick goroutine.
type Position struct {
	Tile     TileAddress
	Instance InstanceID
	Pos      mgl32.Vec3
	Rot      mgl32.Quat
}

// New builds a position from a raw tile id and local coordinates. When the raw id has
// no cell, tile membership and the outdoor cell are resolved from the coordinates.
func New(tileID uint32, pos mgl32.Vec3, rot mgl32.Quat, instance InstanceID) Position {
	p := Position{Tile: FromRaw(tileID), Instance: instance, Pos: pos, Rot: rot}
	if tileID&0xFFFF == 0 {
		p.SetPosition(pos)
	}
	return p
}

// At is New with an identity rotation.
func At(tileID uint32, x, y, z float32, instance InstanceID) Position {
	return New(tileID, mgl32.Vec3{x, y, z}, mgl32.QuatIdent(), instance)
}

func (p Position) Indoors() bool       { return p.Tile.Indoors() }
func (p Position) Landblock() uint16   { return p.Tile.Landblock() }
func (p Position) RealmID() uint16     { return p.Instance.Realm() }
func (p Position) IsEphemeral() bool   { return p.Instance.Ephemeral() }
func (p Position) X() float32          { return p.Pos[0] }
func (p Position) Y() float32          { return p.Pos[1] }
func (p Position) Z() float32          { return p.Pos[2] }
func (p Position) GlobalTileX() uint32 { return p.Tile.X() }
func (p Position) GlobalTileY() uint32 { return p.Tile.Y() }

func (p Position) GlobalCellX() uint32 { return p.Tile.X()*CellSide + p.Tile.CellColumn() }
func (p Position) GlobalCellY() uint32 { return p.Tile.Y()*CellSide + p.Tile.CellRow() }

// WithZ returns a copy with a different local Z.
func (p Position) WithZ(z float32) Position {
	p.Pos[2] = z
	return p
}

// SetToDefaultRealmInstance moves the position into instance 0 of realmID.
func (p *Position) SetToDefaultRealmInstance(realmID uint16) {
	p.Instance = DefaultInstance(realmID)
}

// SetPosition sets the local coordinates and re-resolves tile membership (X, then Y)
// and the outdoor cell. Indoor addresses are left untouched.
func (p *Position) SetPosition(pos mgl32.Vec3) (blockChanged, cellChanged bool) {
	p.Pos = pos
	blockChanged = p.resolveTile()
	cellChanged = p.ResolveCell()
	return blockChanged, cellChanged
}

func (p *Position) resolveTile() bool {
	if p.Indoors() {
		return false
	}
	moved := p.rebaseAxis(0)
	if p.rebaseAxis(1) {
		moved = true
	}
	return moved
}

func (p *Position) rebaseAxis(axis int) bool {
	v := p.Pos[axis]
	if math.IsNaN(float64(v)) || (v >= 0 && v < BlockLength) {
		return false
	}
	offset := int(math.Floor(float64(v) / BlockLength))
	var (
		next TileAddress
		ok   bool
	)
	if axis == 0 {
		next, ok = p.Tile.TransitionX(offset)
	} else {
		next, ok = p.Tile.TransitionY(offset)
	}
	if !ok {
		// edge of the world: clamp, stay on this tile
		if v < 0 {
			p.Pos[axis] = 0
		} else {
			p.Pos[axis] = BlockLength
		}
		return false
	}
	p.Tile = next
	p.Pos[axis] = float32(float64(v) - float64(offset*BlockLength))
	return true
}

// ResolveCell recomputes the outdoor cell from local X/Y. It reports whether the
// address changed.
func (p *Position) ResolveCell() bool {
	if p.Indoors() {
		return false
	}
	cell := outdoorCell(p.Pos[0], p.Pos[1])
	if cell == p.Tile.Cell() {
		return false
	}
	p.Tile = p.Tile.WithCell(cell)
	return true
}

// ToGlobal returns the world-space coordinate (tile origin + local offset). With
// skipIndoors, indoor positions return their local coordinate.
func (p Position) ToGlobal(skipIndoors bool) mgl32.Vec3 {
	if skipIndoors && p.Indoors() {
		return p.Pos
	}
	return mgl32.Vec3{
		float32(p.Tile.X())*BlockLength + p.Pos[0],
		float32(p.Tile.Y())*BlockLength + p.Pos[1],
		p.Pos[2],
	}
}

// delta is q - p per axis. Cross-tile deltas add the tile offset; Z is never adjusted.
// Work is done in float64 so delta(p, q) == -delta(q, p) exactly.
func (p Position) delta(q Position) (dx, dy, dz float64) {
	dx = float64(q.Pos[0]) - float64(p.Pos[0])
	dy = float64(q.Pos[1]) - float64(p.Pos[1])
	dz = float64(q.Pos[2]) - float64(p.Pos[2])
	if q.Tile == p.Tile {
		return dx, dy, dz
	}
	dx += float64(int(q.Tile.X())-int(p.Tile.X())) * BlockLength
	dy += float64(int(q.Tile.Y())-int(p.Tile.Y())) * BlockLength
	return dx, dy, dz
}

// SquaredDistance is the 3D squared distance to q.
func (p Position) SquaredDistance(q Position) float32 {
	dx, dy, dz := p.delta(q)
	return float32(dx*dx + dy*dy + dz*dz)
}

// DistanceTo is the 3D distance to q.
func (p Position) DistanceTo(q Position) float32 {
	dx, dy, dz := p.delta(q)
	return float32(math.Sqrt(dx*dx + dy*dy + dz*dz))
}

// Distance2D ignores Z.
func (p Position) Distance2D(q Position) float32 {
	dx, dy, _ := p.delta(q)
	return float32(math.Sqrt(dx*dx + dy*dy))
}

func (p Position) Distance2DSquared(q Position) float32 {
	dx, dy, _ := p.delta(q)
	return float32(dx*dx + dy*dy)
}

// Offset is the vector from p to q.
func (p Position) Offset(q Position) mgl32.Vec3 {
	dx, dy, dz := p.delta(q)
	return mgl32.Vec3{float32(dx), float32(dy), float32(dz)}
}

// IsRotationValid reports whether q is the identity or a finite quaternion within
// RotationEpsilon of unit length.
func IsRotationValid(q mgl32.Quat) bool {
	if q == mgl32.QuatIdent() {
		return true
	}
	for _, c := range [4]float32{q.W, q.V[0], q.V[1], q.V[2]} {
		f := float64(c)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	l := float64(q.Len())
	if math.IsNaN(l) {
		return false
	}
	return math.Abs(1-l) <= RotationEpsilon
}

// RepairRotation normalizes the rotation and keeps the result only if it is valid.
// A zero-length rotation cannot be normalized and is left alone.
func (p *Position) RepairRotation() bool {
	if l := float64(p.Rot.Len()); l == 0 || math.IsNaN(l) {
		return false
	}
	n := p.Rot.Normalize()
	if !IsRotationValid(n) {
		return false
	}
	p.Rot = n
	return true
}

// Equal compares address, local coordinates and rotation. Instance is ignored.
func (p Position) Equal(q Position) bool {
	return p.Tile == q.Tile && p.Pos == q.Pos && p.Rot == q.Rot
}

// String is the short debug form; not a wire format.
func (p Position) String() string {
	return fmt.Sprintf("%08X [%v %v %v]", p.Tile.Raw(), p.Pos[0], p.Pos[1], p.Pos[2])
}

// LOCString includes rotation (W X Y Z) and the raw instance id.
func (p Position) LOCString() string {
	return fmt.Sprintf("0x%08X [%.6f %.6f %.6f] %.6f %.6f %.6f %.6f %d",
		p.Tile.Raw(), p.Pos[0], p.Pos[1], p.Pos[2],
		p.Rot.W, p.Rot.V[0], p.Rot.V[1], p.Rot.V[2], p.Instance.Raw())
}
