package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestResolveCell_RangeAndIdempotent(t *testing.T) {
	for x := float32(0); x < BlockLength; x += 3.5 {
		for y := float32(0); y < BlockLength; y += 3.5 {
			p := At(0x12340000, x, y, 0, 0)
			c := p.Tile.Cell()
			if c < 1 || c > CellCount {
				t.Fatalf("cell out of range at (%v,%v): %d", x, y, c)
			}
			if p.Tile.Landblock() != 0x1234 {
				t.Fatalf("landblock changed at (%v,%v): %04X", x, y, p.Tile.Landblock())
			}
			if p.ResolveCell() {
				t.Fatalf("second ResolveCell changed address at (%v,%v)", x, y)
			}
		}
	}
}

func TestResolveCell_RowMajor(t *testing.T) {
	p := At(0x12340000, 24*3+1, 24*5+1, 0, 0)
	if got, want := p.Tile.Cell(), uint16(3*8+5+1); got != want {
		t.Fatalf("cell: got %d want %d", got, want)
	}
	if p.Tile.CellColumn() != 3 || p.Tile.CellRow() != 5 {
		t.Fatalf("cell grid: got (%d,%d)", p.Tile.CellColumn(), p.Tile.CellRow())
	}
	if p.GlobalCellX() != 0x12*8+3 || p.GlobalCellY() != 0x34*8+5 {
		t.Fatalf("global cell: got (%d,%d)", p.GlobalCellX(), p.GlobalCellY())
	}
}

func TestSetPosition_CrossesTilesPerAxis(t *testing.T) {
	p := At(0x10100000, 200, -10, 5, 0)
	if got := p.Tile.Landblock(); got != 0x110F {
		t.Fatalf("landblock: got %04X want 110F", got)
	}
	if p.X() != 8 || p.Y() != 182 || p.Z() != 5 {
		t.Fatalf("rebased coords: got %v", p.Pos)
	}
	if got := p.Tile.Raw(); got != 0x110F0008 {
		t.Fatalf("raw: got %08X want 110F0008", got)
	}

	blockChanged, _ := p.SetPosition(mgl32.Vec3{-192, 10, 5})
	if !blockChanged {
		t.Fatalf("expected block change")
	}
	if p.Tile.X() != 0x10 || p.X() != 0 {
		t.Fatalf("exact multiple should rebase to 0: tile x=%02X x=%v", p.Tile.X(), p.X())
	}
}

func TestSetPosition_ClampsAtWorldEdge(t *testing.T) {
	p := At(0x00100000, -5, 10, 0, 0)
	if p.Tile.X() != 0 || p.X() != 0 {
		t.Fatalf("low edge: tile x=%d x=%v", p.Tile.X(), p.X())
	}

	p = At(0xFE100000, 200, 10, 0, 0)
	if p.Tile.X() != MaxTileCoord || p.X() != BlockLength {
		t.Fatalf("high edge: tile x=%d x=%v", p.Tile.X(), p.X())
	}
	if p.Tile.CellColumn() != CellSide-1 {
		t.Fatalf("clamped coordinate should land in the last column: %d", p.Tile.CellColumn())
	}
}

func TestSetPosition_IndoorsExempt(t *testing.T) {
	p := At(0x10100105, 10, 10, 0, 0)
	changed, cellChanged := p.SetPosition(mgl32.Vec3{300, -40, 0})
	if changed || cellChanged {
		t.Fatalf("indoor positions must not re-resolve")
	}
	if p.Tile.Raw() != 0x10100105 || p.X() != 300 {
		t.Fatalf("indoor position moved: %s", p)
	}
	if !p.Indoors() {
		t.Fatalf("expected indoors")
	}
}

func TestTransition_WorldBounds(t *testing.T) {
	a := FromRaw(0xFE000001)
	if _, ok := a.TransitionX(1); ok {
		t.Fatalf("expected out of bounds")
	}
	next, ok := a.TransitionX(-1)
	if !ok || next.Raw() != 0xFD000001 {
		t.Fatalf("TransitionX(-1): got %08X ok=%v", next.Raw(), ok)
	}
	if _, ok := FromRaw(0x01000001).TransitionY(-1); ok {
		t.Fatalf("expected out of bounds on Y")
	}
}

func TestDistance_SymmetricAcrossBoundary(t *testing.T) {
	a := At(0x05050000, 191.999, 10, 3, 0)
	b := At(0x06050000, 0, 10, 3, 0)
	if a.Tile.Landblock() != 0x0505 || b.Tile.Landblock() != 0x0605 {
		t.Fatalf("unexpected tiles: %s %s", a, b)
	}
	d := a.DistanceTo(b)
	if math.Abs(float64(d)-0.001) > 1e-3 {
		t.Fatalf("boundary distance: got %v", d)
	}
	if d != b.DistanceTo(a) {
		t.Fatalf("distance not symmetric: %v vs %v", d, b.DistanceTo(a))
	}

	far := At(0x01090000, 10, 180, -20, 0)
	if a.DistanceTo(far) != far.DistanceTo(a) {
		t.Fatalf("cross-tile distance not symmetric")
	}
	if a.SquaredDistance(far) != far.SquaredDistance(a) {
		t.Fatalf("squared distance not symmetric")
	}
	off := a.Offset(far)
	back := far.Offset(a)
	if off != back.Mul(-1) {
		t.Fatalf("offset not antisymmetric: %v vs %v", off, back)
	}
}

func TestDistance_ZNotTileAdjusted(t *testing.T) {
	a := At(0x05050000, 10, 10, 0, 0)
	b := At(0x05060000, 10, 10, 4, 0)
	if got := a.Offset(b); got != (mgl32.Vec3{0, BlockLength, 4}) {
		t.Fatalf("offset: got %v", got)
	}
	if got := a.Distance2D(b); got != BlockLength {
		t.Fatalf("2d distance: got %v", got)
	}
	if got := a.Distance2DSquared(b); got != BlockLength*BlockLength {
		t.Fatalf("2d squared distance: got %v", got)
	}
}

func TestToGlobal(t *testing.T) {
	p := At(0x02030000, 10, 20, 30, 0)
	if got := p.ToGlobal(false); got != (mgl32.Vec3{2*192 + 10, 3*192 + 20, 30}) {
		t.Fatalf("global: got %v", got)
	}
	in := At(0x02030100, 10, 20, 30, 0)
	if got := in.ToGlobal(true); got != in.Pos {
		t.Fatalf("indoor skip: got %v", got)
	}
}

func TestRepairRotation(t *testing.T) {
	p := Position{Rot: mgl32.Quat{W: 2}}
	if IsRotationValid(p.Rot) {
		t.Fatalf("length 2 rotation should be invalid")
	}
	if !p.RepairRotation() {
		t.Fatalf("expected repair to succeed")
	}
	if p.Rot.W != 1 {
		t.Fatalf("repaired rotation: got %v", p.Rot)
	}

	nan := float32(math.NaN())
	p = Position{Rot: mgl32.Quat{W: nan, V: mgl32.Vec3{0, 0, 1}}}
	if p.RepairRotation() {
		t.Fatalf("NaN rotation must not repair")
	}
	if !math.IsNaN(float64(p.Rot.W)) {
		t.Fatalf("failed repair must leave rotation unchanged")
	}

	p = Position{Rot: mgl32.Quat{}}
	if p.RepairRotation() {
		t.Fatalf("zero rotation must not repair")
	}
	if p.Rot != (mgl32.Quat{}) {
		t.Fatalf("zero rotation changed to %v", p.Rot)
	}

	if !IsRotationValid(mgl32.Quat{W: 1.00005}) {
		t.Fatalf("rotation within epsilon should be valid")
	}
}

func TestPositionStrings(t *testing.T) {
	p := At(0x12340001, 1, 2.5, 3, NewInstanceID(1, 0, false))
	if got, want := p.String(), "12340001 [1 2.5 3]"; got != want {
		t.Fatalf("String: got %q want %q", got, want)
	}
	want := "0x12340001 [1.000000 2.500000 3.000000] 1.000000 0.000000 0.000000 0.000000 65536"
	if got := p.LOCString(); got != want {
		t.Fatalf("LOCString: got %q want %q", got, want)
	}
}

func TestEqualIgnoresInstance(t *testing.T) {
	a := At(0x12340001, 1, 2, 3, NewInstanceID(1, 0, false))
	b := At(0x12340001, 1, 2, 3, NewInstanceID(2, 7, true))
	if !a.Equal(b) {
		t.Fatalf("expected equal")
	}
	b.Pos[0] = 1.5
	if a.Equal(b) {
		t.Fatalf("expected not equal after move")
	}
}
