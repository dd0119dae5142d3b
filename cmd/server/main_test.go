package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"realmshard.io/internal/persistence/snapshot"
	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/tuning"
	"realmshard.io/internal/sim/world"
	"realmshard.io/internal/transport/ws"
)

type countingTicks struct{ n int }

func (c *countingTicks) WriteTick(world.TickLogEntry) error { c.n++; return nil }

type countingTeleports struct{ ids []string }

func (c *countingTeleports) WriteTeleport(e teleport.Entry) error {
	c.ids = append(c.ids, e.ID)
	return nil
}

func runWorld(t *testing.T) *world.World {
	t.Helper()
	w := world.New(world.DefaultConfig(), world.Collaborators{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func TestMultiLoggers_FanOutAndTolerateNil(t *testing.T) {
	a, b := &countingTicks{}, &countingTicks{}
	_ = multiTickLogger{a: a, b: b}.WriteTick(world.TickLogEntry{Tick: 1})
	_ = multiTickLogger{a: a}.WriteTick(world.TickLogEntry{Tick: 2})
	if a.n != 2 || b.n != 1 {
		t.Fatalf("tick fan-out: a=%d b=%d", a.n, b.n)
	}

	ta := &countingTeleports{}
	_ = multiTeleportLogger{a: ta}.WriteTeleport(teleport.Entry{ID: "t1"})
	if len(ta.ids) != 1 || ta.ids[0] != "t1" {
		t.Fatalf("teleport fan-out: %v", ta.ids)
	}
}

func TestTeleportConfig_FromTuning(t *testing.T) {
	tune := tuning.Defaults()
	tune.Teleport.AnimationsMs["lifestone"] = 500
	tune.Teleport.AnimationsMs["portal"] = 100
	tune.Teleport.MaterializeMaxPolls = 7
	cfg := teleportConfig(tune)
	if cfg.Animations[teleport.RecallLifestone] != 500*time.Millisecond {
		t.Fatalf("lifestone animation: %v", cfg.Animations[teleport.RecallLifestone])
	}
	if cfg.Animations[teleport.RecallMarketplace] != 14*time.Second {
		t.Fatalf("marketplace animation: %v", cfg.Animations[teleport.RecallMarketplace])
	}
	if len(cfg.Animations) != 3 {
		t.Fatalf("unknown kinds should be ignored: %v", cfg.Animations)
	}
	if cfg.MaterializeMaxPolls != 7 || cfg.NoLog == nil || !cfg.NoLog(0x00AF) {
		t.Fatalf("config: %+v", cfg)
	}
}

func TestMetricsHandler(t *testing.T) {
	w := world.New(world.DefaultConfig(), world.Collaborators{}, nil)
	w.OpenWorld("test")
	h := metricsHandler(metricsSources{
		world:    w,
		sessions: func() ws.Stats { return ws.Stats{Sessions: 3, Dropped: 2} },
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"realmshard_world_open 1", "realmshard_sessions 3", "realmshard_session_dropped_total 2"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "realmshard_index_queue_depth") {
		t.Fatalf("index metrics without an index")
	}
}

func TestAdminWorldHandler(t *testing.T) {
	w := runWorld(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/world/open", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	adminWorldHandler(w, false)(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("open status: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "open" || w.Status() != world.Open {
		t.Fatalf("open response: %v", resp)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/admin/v1/world/close?boot=1", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	adminWorldHandler(w, true)(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote close should be forbidden: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/world/close", nil)
	adminWorldHandler(w, true)(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be rejected: %d", rec.Code)
	}
}

func TestSnapshotKeeper_FlushArchivesAndPrunes(t *testing.T) {
	dataDir := t.TempDir()
	store, err := snapshot.Open(filepath.Join(dataDir, "snapshots"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	k := snapshotKeeper{store: store, dataDir: dataDir, keep: 2, logger: log.New(io.Discard, "", 0)}
	if k.flush() != "" {
		t.Fatalf("clean store should not write")
	}

	home := spatial.At(0x00010001, 1, 2, 3, spatial.DefaultInstance(1))
	base := time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		store.SetClock(func() time.Time { return at })
		_ = store.SaveCharacter(context.Background(), players.Character{ID: "A1", Location: home, Home: home})
		if k.flush() == "" {
			t.Fatalf("flush %d wrote nothing", i)
		}
	}

	left, _ := filepath.Glob(filepath.Join(dataDir, "snapshots", "*.snap.zst"))
	if len(left) != 2 {
		t.Fatalf("kept snapshots: %v", left)
	}
	archived, _ := filepath.Glob(filepath.Join(dataDir, "archives", "day_20260506", "*.snap.zst"))
	if len(archived) != 1 || filepath.Base(archived[0]) != filepath.Base(snapshotName(base)) {
		t.Fatalf("archived: %v", archived)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "archives", "day_20260506", "meta.json")); err != nil {
		t.Fatalf("meta: %v", err)
	}
}

func snapshotName(at time.Time) string {
	return filepath.Join("snapshots", strconv.FormatInt(at.UnixMilli(), 10)+".snap.zst")
}
