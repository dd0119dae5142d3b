package spatial

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestWire_RoundTripWithMasks(t *testing.T) {
	p := At(0x7D640013, 12.5, 80.25, 40, 0)
	p.Rot = mgl32.Quat{W: 0.70710677, V: mgl32.Vec3{0.1, 0.2, 0.70710677}}

	cases := []struct {
		name      string
		flags     PositionFlags
		writeTile bool
		wantLen   int
	}{
		{"full", 0, true, 4 + 4 + 12 + 16},
		{"no tile", 0, false, 4 + 12 + 16},
		{"masked xy", NoX | NoY, true, 4 + 4 + 12 + 8},
		{"all masked", NoW | NoX | NoY | NoZ, true, 4 + 4 + 12},
		{"placement velocity", HasPlacementID | HasVelocity | NoW, true, 4 + 4 + 12 + 12 + 4 + 12},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := p.AppendWire(nil, tc.flags, 42, tc.writeTile)
			if len(b) != tc.wantLen {
				t.Fatalf("encoded length: got %d want %d", len(b), tc.wantLen)
			}
			got, n, err := DecodeWire(b, tc.writeTile)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n != len(b) {
				t.Fatalf("consumed %d of %d bytes", n, len(b))
			}
			if got.Flags != tc.flags {
				t.Fatalf("flags: got %x want %x", got.Flags, tc.flags)
			}
			wantTile := p.Tile
			if !tc.writeTile {
				wantTile = Undefined
			}
			if got.Position.Tile != wantTile {
				t.Fatalf("tile: got %s want %s", got.Position.Tile, wantTile)
			}
			if got.Position.Pos != p.Pos {
				t.Fatalf("coords: got %v want %v", got.Position.Pos, p.Pos)
			}
			checkComponent(t, "W", tc.flags.Has(NoW), got.Position.Rot.W, p.Rot.W)
			checkComponent(t, "X", tc.flags.Has(NoX), got.Position.Rot.V[0], p.Rot.V[0])
			checkComponent(t, "Y", tc.flags.Has(NoY), got.Position.Rot.V[1], p.Rot.V[1])
			checkComponent(t, "Z", tc.flags.Has(NoZ), got.Position.Rot.V[2], p.Rot.V[2])
			if tc.flags.Has(HasPlacementID) && got.PlacementID != 42 {
				t.Fatalf("placement: got %d", got.PlacementID)
			}
			if got.Velocity != (mgl32.Vec3{}) {
				t.Fatalf("velocity should be zero: %v", got.Velocity)
			}
		})
	}
}

func checkComponent(t *testing.T, name string, masked bool, got, want float32) {
	t.Helper()
	if masked {
		if got != 0 {
			t.Fatalf("masked %s should decode as 0, got %v", name, got)
		}
		return
	}
	if got != want {
		t.Fatalf("rotation %s: got %v want %v", name, got, want)
	}
}

func TestWire_FieldOrder(t *testing.T) {
	p := At(0x01020003, 1, 2, 3, 0)
	p.Rot = mgl32.Quat{W: 4, V: mgl32.Vec3{5, 6, 7}}
	b := p.AppendWire(nil, NoX, 0, true)
	r := reader{b: b}
	if r.u32() != uint32(NoX) || r.u32() != 0x01020003 {
		t.Fatalf("header order wrong")
	}
	for i, want := range []float32{1, 2, 3, 4, 6, 7} {
		if got := r.f32(); got != want {
			t.Fatalf("float %d: got %v want %v", i, got, want)
		}
	}
	if r.off != len(b) || r.err != nil {
		t.Fatalf("trailing bytes or error: off=%d len=%d err=%v", r.off, len(b), r.err)
	}
}

func TestWire_ShortPayload(t *testing.T) {
	p := At(0x01020003, 1, 2, 3, 0)
	b := p.AppendWire(nil, HasPlacementID, 9, true)
	if _, _, err := DecodeWire(b[:len(b)-2], true); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if _, _, err := DecodeWire(nil, false); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload on empty payload, got %v", err)
	}
}

func TestCompact_RoundTrip(t *testing.T) {
	p := At(0xA9B40019, 84, 7.5, 94.005, 0)
	p.Rot = mgl32.Quat{W: 0.5, V: mgl32.Vec3{0.5, 0.5, 0.5}}
	b := p.AppendCompact(nil, true, true)
	if len(b) != 32 {
		t.Fatalf("compact length: got %d", len(b))
	}
	got, n, err := DecodeCompact(b, true, true)
	if err != nil || n != 32 {
		t.Fatalf("decode compact: n=%d err=%v", n, err)
	}
	if !got.Equal(p) {
		t.Fatalf("compact round trip: got %s want %s", got, p)
	}

	b = p.AppendCompact(nil, true, false)
	got, _, err = DecodeCompact(b, true, false)
	if err != nil {
		t.Fatalf("decode compact: %v", err)
	}
	if got.Rot != mgl32.QuatIdent() || got.Pos != p.Pos {
		t.Fatalf("compact without rotation: %s rot=%v", got, got.Rot)
	}
}

func TestFromMapClick(t *testing.T) {
	p, err := FromMapClick(0.5, 0.5)
	if err != nil {
		t.Fatalf("map click: %v", err)
	}
	if p.Tile.Raw() != 0x80800001 {
		t.Fatalf("tile: got %s", p.Tile)
	}
	if p.X() != 12 || p.Y() != 12 {
		t.Fatalf("cell center: got %v", p.Pos)
	}

	for _, c := range [][2]float32{{200, 0}, {0, 200}, {-200, 0}, {0, -103}} {
		if _, err := FromMapClick(c[0], c[1]); !errors.Is(err, ErrBadCoordinates) {
			t.Fatalf("FromMapClick(%v,%v): expected ErrBadCoordinates, got %v", c[0], c[1], err)
		}
	}
}

func TestFromMapCoordinates(t *testing.T) {
	p, err := FromMapCoordinates(0, 0)
	if err != nil {
		t.Fatalf("map coordinates: %v", err)
	}
	if p.Tile.Landblock() != 0x7F7F {
		t.Fatalf("landblock: got %04X", p.Tile.Landblock())
	}
	if p.Tile.Cell() != 3*8+3+1 {
		t.Fatalf("cell: got %d", p.Tile.Cell())
	}
	if _, err := FromMapCoordinates(150, 0); !errors.Is(err, ErrBadCoordinates) {
		t.Fatalf("expected ErrBadCoordinates, got %v", err)
	}
}
