package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	_ "modernc.org/sqlite"

	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/tuning"
	"realmshard.io/internal/sim/world"
)

func openTest(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "realm.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return idx, path
}

func TestSQLiteIndex_CharacterRoundTrip(t *testing.T) {
	idx, _ := openTest(t)
	defer idx.Close()
	ctx := context.Background()

	if _, ok, err := idx.LoadCharacter(ctx, "A1"); err != nil || ok {
		t.Fatalf("missing character: ok=%v err=%v", ok, err)
	}

	sanct := spatial.New(0xA9B40019, mgl32.Vec3{84, 7.1, 94.005}, mgl32.Quat{W: 0.707107, V: mgl32.Vec3{0, 0, -0.707107}}, spatial.DefaultInstance(1))
	c := players.Character{
		ID:        "A1",
		Name:      "Tester",
		AccountID: 0x42,
		Role:      teleport.RoleSentinel,
		HomeRealm: 1,
		Location:  spatial.At(0x7308001F, 80, 163.4, 12.004999, spatial.NewInstanceID(0x7FFF, 0x42, false)),
		Home:      spatial.At(0x00010001, 1, 2, 3, spatial.DefaultInstance(1)),
		Sanctuary: &sanct,
		SavedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if err := idx.SaveCharacter(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := idx.LoadCharacter(ctx, "A1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Name != "Tester" || got.AccountID != 0x42 || got.Role != teleport.RoleSentinel || got.HomeRealm != 1 {
		t.Fatalf("scalar fields: %+v", got)
	}
	if !got.Location.Equal(c.Location) || got.Location.Instance != c.Location.Instance {
		t.Fatalf("location: got %s want %s", got.Location.LOCString(), c.Location.LOCString())
	}
	if got.Sanctuary == nil || !got.Sanctuary.Equal(sanct) || got.EphemeralExitTo != nil {
		t.Fatalf("optional positions: sanct=%v exit=%v", got.Sanctuary, got.EphemeralExitTo)
	}
	if !got.SavedAt.Equal(c.SavedAt) {
		t.Fatalf("saved_at: %v", got.SavedAt)
	}

	c.Location = c.Home
	if err := idx.SaveCharacter(ctx, c); err != nil {
		t.Fatalf("resave: %v", err)
	}
	got, _, _ = idx.LoadCharacter(ctx, "A1")
	if got.Location.Tile.Raw() != 0x00010001 {
		t.Fatalf("upsert should replace: %s", got.Location)
	}
}

func TestSQLiteIndex_JournalsAndConfigs(t *testing.T) {
	idx, path := openTest(t)

	_ = idx.WriteTick(world.TickLogEntry{Tick: 7, UnixMs: 1000, Actions: 3, Sessions: 1, WorldTimeMs: 116})
	to := spatial.At(0x01010001, 1, 1, 0, spatial.DefaultInstance(2))
	_ = idx.WriteTeleport(teleport.Entry{ID: "t1", ActorID: "A1", Kind: "teleport", To: to, Result: teleport.ResultDenied, Reason: "realm_restricted", UnixMs: 1000})
	if err := idx.UpsertConfigs(tuning.Defaults(), realms.Defaults()); err != nil {
		t.Fatalf("upsert configs: %v", err)
	}
	if d, err := idx.ConfigDigest("tuning"); err != nil || len(d) != 64 {
		t.Fatalf("tuning digest: %q %v", d, err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var actions, sessions int
	if err := db.QueryRow(`SELECT actions,sessions FROM ticks WHERE tick=7`).Scan(&actions, &sessions); err != nil {
		t.Fatalf("tick row: %v", err)
	}
	if actions != 3 || sessions != 1 {
		t.Fatalf("tick row: actions=%d sessions=%d", actions, sessions)
	}

	var result, reason, toLoc string
	var toInst int64
	if err := db.QueryRow(`SELECT result,reason,to_loc,to_instance FROM teleports WHERE id='t1'`).Scan(&result, &reason, &toLoc, &toInst); err != nil {
		t.Fatalf("teleport row: %v", err)
	}
	if result != "denied" || reason != "realm_restricted" || toLoc != to.LOCString() || uint32(toInst) != to.Instance.Raw() {
		t.Fatalf("teleport row: %s %s %s %d", result, reason, toLoc, toInst)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: world.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(world.TickLogEntry{Tick: 2})
	_ = s.WriteTeleport(teleport.Entry{ID: "t"})

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropTeleportTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestPositionEncoding_Short(t *testing.T) {
	if _, err := decodePosition([]byte{1, 2}); err == nil {
		t.Fatalf("short blob should fail")
	}
	if p, err := decodeOptional(nil); err != nil || p != nil {
		t.Fatalf("empty optional: %v %v", p, err)
	}
}
