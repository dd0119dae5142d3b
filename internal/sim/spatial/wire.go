package spatial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// PositionFlags gate the optional fields of the position payload.
type PositionFlags uint32

const (
	HasVelocity    PositionFlags = 0x01
	HasPlacementID PositionFlags = 0x02
	IsGrounded     PositionFlags = 0x04
	NoW            PositionFlags = 0x08
	NoX            PositionFlags = 0x10
	NoY            PositionFlags = 0x20
	NoZ            PositionFlags = 0x40
)

func (f PositionFlags) Has(bit PositionFlags) bool { return f&bit != 0 }

var ErrShortPayload = errors.New("spatial: short position payload")

// WirePosition is a decoded position payload. Masked rotation components decode as 0.
type WirePosition struct {
	Flags       PositionFlags
	Position    Position
	PlacementID int32
	Velocity    mgl32.Vec3
}

// AppendWire appends the position payload:
// flags, [tile], x, y, z, [w], [rx], [ry], [rz], [placement], [velocity x3].
// Velocity is always written as zero.
func (p Position) AppendWire(b []byte, flags PositionFlags, placementID int32, writeTile bool) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(flags))
	if writeTile {
		b = binary.LittleEndian.AppendUint32(b, p.Tile.Raw())
	}
	b = appendFloats(b, p.Pos[0], p.Pos[1], p.Pos[2])
	for _, c := range rotationFields(flags) {
		if c.present {
			b = appendFloats(b, c.get(p.Rot))
		}
	}
	if flags.Has(HasPlacementID) {
		b = binary.LittleEndian.AppendUint32(b, uint32(placementID))
	}
	if flags.Has(HasVelocity) {
		b = appendFloats(b, 0, 0, 0)
	}
	return b
}

// DecodeWire reads a payload written by AppendWire with the same writeTile option.
// It returns the number of bytes consumed.
func DecodeWire(b []byte, writeTile bool) (WirePosition, int, error) {
	r := reader{b: b}
	var out WirePosition
	out.Flags = PositionFlags(r.u32())
	if writeTile {
		out.Position.Tile = FromRaw(r.u32())
	}
	out.Position.Pos = mgl32.Vec3{r.f32(), r.f32(), r.f32()}
	var rot mgl32.Quat
	for i, c := range rotationFields(out.Flags) {
		if !c.present {
			continue
		}
		v := r.f32()
		switch i {
		case 0:
			rot.W = v
		default:
			rot.V[i-1] = v
		}
	}
	out.Position.Rot = rot
	if out.Flags.Has(HasPlacementID) {
		out.PlacementID = int32(r.u32())
	}
	if out.Flags.Has(HasVelocity) {
		out.Velocity = mgl32.Vec3{r.f32(), r.f32(), r.f32()}
	}
	if r.err != nil {
		return WirePosition{}, 0, r.err
	}
	return out, r.off, nil
}

// AppendCompact writes [tile], x, y, z and, with writeRot, the full W X Y Z rotation.
func (p Position) AppendCompact(b []byte, writeTile, writeRot bool) []byte {
	if writeTile {
		b = binary.LittleEndian.AppendUint32(b, p.Tile.Raw())
	}
	b = appendFloats(b, p.Pos[0], p.Pos[1], p.Pos[2])
	if writeRot {
		b = appendFloats(b, p.Rot.W, p.Rot.V[0], p.Rot.V[1], p.Rot.V[2])
	}
	return b
}

// DecodeCompact is the inverse of AppendCompact. Without writeRot the rotation is identity.
func DecodeCompact(b []byte, writeTile, writeRot bool) (Position, int, error) {
	r := reader{b: b}
	var p Position
	if writeTile {
		p.Tile = FromRaw(r.u32())
	}
	p.Pos = mgl32.Vec3{r.f32(), r.f32(), r.f32()}
	p.Rot = mgl32.QuatIdent()
	if writeRot {
		p.Rot = mgl32.Quat{W: r.f32(), V: mgl32.Vec3{r.f32(), r.f32(), r.f32()}}
	}
	if r.err != nil {
		return Position{}, 0, r.err
	}
	return p, r.off, nil
}

type rotField struct {
	present bool
	get     func(q mgl32.Quat) float32
}

// rotationFields lists W, X, Y, Z in wire order.
func rotationFields(flags PositionFlags) [4]rotField {
	return [4]rotField{
		{!flags.Has(NoW), func(q mgl32.Quat) float32 { return q.W }},
		{!flags.Has(NoX), func(q mgl32.Quat) float32 { return q.V[0] }},
		{!flags.Has(NoY), func(q mgl32.Quat) float32 { return q.V[1] }},
		{!flags.Has(NoZ), func(q mgl32.Quat) float32 { return q.V[2] }},
	}
}

func appendFloats(b []byte, vs ...float32) []byte {
	for _, v := range vs {
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(v))
	}
	return b
}

type reader struct {
	b   []byte
	off int
	err error
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if len(r.b)-r.off < 4 {
		r.err = fmt.Errorf("%w: need 4 bytes at offset %d, have %d", ErrShortPayload, r.off, len(r.b)-r.off)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v
}

func (r *reader) f32() float32 { return math.Float32frombits(r.u32()) }

const mapClickLimit = 0x7F8

// FromMapClick builds a position from a map-click coordinate pair (0.0 = map center,
// one unit = ten cells). The result sits in the center of the clicked outdoor cell.
func FromMapClick(northSouth, eastWest float32) (Position, error) {
	ns := (float64(northSouth)-0.5)*10 + 0x400
	ew := (float64(eastWest)-0.5)*10 + 0x400
	if ns < 0 || ew < 0 || ns >= mapClickLimit || ew >= mapClickLimit || math.IsNaN(ns) || math.IsNaN(ew) {
		return Position{}, fmt.Errorf("%w: ns=%v ew=%v", ErrBadCoordinates, northSouth, eastWest)
	}
	baseX, baseY := uint32(ew), uint32(ns)
	p := Position{
		Tile: cellFromBase(baseX, baseY),
		Pos: mgl32.Vec3{
			float32(baseX&7)*CellLength + CellLength/2,
			float32(baseY&7)*CellLength + CellLength/2,
			0,
		},
		Rot: mgl32.QuatIdent(),
	}
	return p, nil
}

func cellFromBase(baseX, baseY uint32) TileAddress {
	cell := uint16((baseX&7)<<3|(baseY&7)) + 1
	return tileAddr(baseX>>3, baseY>>3, cell)
}

// mapCoordOrigin shifts map coordinates from [-101.95, 102.05] to [0, 204].
const mapCoordOrigin = 101.95

// FromMapCoordinates builds an outdoor position from east-west / north-south map
// coordinates, resolving the tile and cell from the global coordinate.
func FromMapCoordinates(eastWest, northSouth float32) (Position, error) {
	gx := (float64(eastWest) + mapCoordOrigin) * CellLength * 10
	gy := (float64(northSouth) + mapCoordOrigin) * CellLength * 10
	limit := float64((MaxTileCoord + 1) * BlockLength)
	if !(gx >= 0 && gy >= 0 && gx < limit && gy < limit) {
		return Position{}, fmt.Errorf("%w: ew=%v ns=%v", ErrBadCoordinates, eastWest, northSouth)
	}
	tx, ty := uint32(gx/BlockLength), uint32(gy/BlockLength)
	local := mgl32.Vec3{float32(gx - float64(tx*BlockLength)), float32(gy - float64(ty*BlockLength)), 0}
	p := Position{Tile: tileAddr(tx, ty, 0), Pos: local, Rot: mgl32.QuatIdent()}
	p.ResolveCell()
	return p, nil
}
