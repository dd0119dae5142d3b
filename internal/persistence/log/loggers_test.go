package log

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/world"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []map[string]any
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTeleportLogger_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	l := NewTeleportLogger(dir)
	l.Writer().SetClock(func() time.Time { return clock })

	to := spatial.At(0xA9B40019, 84, 7.1, 94.01, spatial.DefaultInstance(1))
	if err := l.WriteTeleport(teleport.Entry{ID: "t1", ActorID: "A1", Kind: "lifestone", To: to, Result: teleport.ResultOK, UnixMs: 42}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteTeleport(teleport.Entry{ID: "t2", ActorID: "A1", Kind: "teleport", To: to, Result: teleport.ResultDenied, Reason: "realm_restricted"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, l.Writer().PathForHour("2026-03-04-05"))
	if len(lines) != 2 {
		t.Fatalf("lines: %d", len(lines))
	}
	if lines[0]["id"] != "t1" || lines[0]["result"] != "ok" || lines[0]["to"] != to.LOCString() {
		t.Fatalf("first entry: %v", lines[0])
	}
	if lines[0]["to_instance"].(float64) != float64(spatial.DefaultInstance(1).Raw()) {
		t.Fatalf("to_instance: %v", lines[0]["to_instance"])
	}
	if lines[1]["reason"] != "realm_restricted" {
		t.Fatalf("second entry: %v", lines[1])
	}
}

func TestTickLogger_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 4, 5, 59, 0, 0, time.UTC)
	l := NewTickLogger(dir)
	l.Writer().SetClock(func() time.Time { return clock })

	_ = l.WriteTick(world.TickLogEntry{Tick: 1, UnixMs: 1, Sessions: 2})
	clock = clock.Add(2 * time.Minute)
	_ = l.WriteTick(world.TickLogEntry{Tick: 2, UnixMs: 2})
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first := readLines(t, l.Writer().PathForHour("2026-03-04-05"))
	second := readLines(t, l.Writer().PathForHour("2026-03-04-06"))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("rotation: %d %d", len(first), len(second))
	}
	if first[0]["tick"].(float64) != 1 || first[0]["sessions"].(float64) != 2 {
		t.Fatalf("tick entry: %v", first[0])
	}
}
