package spatial

import "fmt"

// World grid constants. A tile (landblock) is BlockLength units on each edge and is
// split into CellSide x CellSide outdoor cells of CellLength units.
const (
	BlockLength = 192
	CellSide    = 8
	CellLength  = 24
	CellCount   = CellSide * CellSide

	// MaxTileCoord is the largest tile column/row inside the defined world.
	MaxTileCoord = 0xFE

	// Cell indices at or above this value address interior (dungeon/building) cells.
	firstIndoorCell = 0x100
)

// TileAddress is a packed landblock + cell id:
// bits 24..31 tile X, bits 16..23 tile Y, bits 0..15 cell index (0 = unresolved).
type TileAddress uint32

// Undefined is the zero address; positions carrying it derive the tile from their cell.
const Undefined TileAddress = 0

// FromRaw decodes a raw tile id. No validation beyond the structural split is done.
func FromRaw(raw uint32) TileAddress { return TileAddress(raw) }

func tileAddr(x, y uint32, cell uint16) TileAddress {
	return TileAddress(x<<24 | y<<16 | uint32(cell))
}

func (t TileAddress) Raw() uint32       { return uint32(t) }
func (t TileAddress) IsUndefined() bool { return t == Undefined }

// X and Y are the tile's column and row in the global grid.
func (t TileAddress) X() uint32 { return uint32(t) >> 24 & 0xFF }
func (t TileAddress) Y() uint32 { return uint32(t) >> 16 & 0xFF }

// Landblock is the high 16 bits (tile X/Y pair) used for whitelists and partition keys.
func (t TileAddress) Landblock() uint16 { return uint16(uint32(t) >> 16) }

// Cell is the low 16 bits: 1..64 outdoors, >= 0x100 indoors, 0 when unresolved.
func (t TileAddress) Cell() uint16 { return uint16(uint32(t) & 0xFFFF) }

func (t TileAddress) Indoors() bool { return t.Cell() >= firstIndoorCell }

// WithCell returns the same tile with a different cell index.
func (t TileAddress) WithCell(cell uint16) TileAddress {
	return TileAddress(uint32(t)&0xFFFF0000 | uint32(cell))
}

// CellColumn and CellRow return the outdoor cell grid coordinates within the tile.
// Both are zero for unresolved or indoor cells.
func (t TileAddress) CellColumn() uint32 {
	c := t.Cell()
	if c == 0 || c > CellCount {
		return 0
	}
	return uint32(c-1) / CellSide
}

func (t TileAddress) CellRow() uint32 {
	c := t.Cell()
	if c == 0 || c > CellCount {
		return 0
	}
	return uint32(c-1) % CellSide
}

// TransitionX returns the neighbor tile offsetBlocks columns away, keeping the cell.
// ok is false when the neighbor lies outside the world.
func (t TileAddress) TransitionX(offsetBlocks int) (TileAddress, bool) {
	nx := int(t.X()) + offsetBlocks
	if nx < 0 || nx > MaxTileCoord {
		return t, false
	}
	return tileAddr(uint32(nx), t.Y(), t.Cell()), true
}

// TransitionY is TransitionX for rows.
func (t TileAddress) TransitionY(offsetBlocks int) (TileAddress, bool) {
	ny := int(t.Y()) + offsetBlocks
	if ny < 0 || ny > MaxTileCoord {
		return t, false
	}
	return tileAddr(t.X(), uint32(ny), t.Cell()), true
}

func (t TileAddress) String() string { return fmt.Sprintf("%08X", uint32(t)) }

// outdoorCell computes the 1-based row-major cell for local x/y. Coordinates on or past
// the far edge (a clamped position) land in the last column/row.
func outdoorCell(x, y float32) uint16 {
	cx := cellIndex(x)
	cy := cellIndex(y)
	return uint16(cx*CellSide + cy + 1)
}

func cellIndex(v float32) uint32 {
	if v <= 0 {
		return 0
	}
	i := uint32(v) / CellLength
	if i >= CellSide {
		i = CellSide - 1
	}
	return i
}
