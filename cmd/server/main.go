package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"realmshard.io/internal/persistence/archive"
	persistlog "realmshard.io/internal/persistence/log"
	"realmshard.io/internal/persistence/snapshot"
	"realmshard.io/internal/sim/partition"
	"realmshard.io/internal/sim/players"
	"realmshard.io/internal/sim/realms"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/tuning"
	"realmshard.io/internal/sim/world"
	"realmshard.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		realmsPath = flag.String("realms", "", "path to realms.yaml (default: <configs>/realms.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (journals + character store)")
		workers    = flag.Int("workers", 0, "landblock worker count (default: tuning partition.workers)")
		authToken  = flag.String("auth_token", "", "shared HELLO auth token (or set REALM_AUTH_TOKEN)")
		snapKeep   = flag.Int("snapshot_keep", 24, "snapshots kept under <data>/snapshots when the index is disabled")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *workers > 0 {
		tune.Partition.Workers = *workers
	}

	rp := strings.TrimSpace(*realmsPath)
	if rp == "" {
		rp = filepath.Join(*configDir, "realms.yaml")
	}
	cat, err := realms.Load(rp)
	if err != nil {
		logger.Fatalf("load realms: %v", err)
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	// Optional: read-model index and character store.
	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	var store players.Store
	var snaps *snapshot.Store
	if idx != nil {
		defer idx.Close()
		store = idx
		if err := idx.UpsertConfigs(tune, cat.Config()); err != nil {
			logger.Printf("index backend: upsert configs: %v", err)
		}
	} else {
		snaps, err = snapshot.Open(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			logger.Fatalf("open snapshots: %v", err)
		}
		store = snaps
		logger.Printf("index disabled; characters kept in snapshots (%d loaded)", snaps.Len())
	}

	w := world.New(world.Config{
		TargetUpdateHz: tune.Tick.UpdateHz,
		IdleSleep:      tune.IdleSleep(),
		BusySleep:      tune.BusySleep(),
	}, world.Collaborators{}, logger)

	parts := partition.NewManager(partition.Config{
		Workers:    tune.Partition.Workers,
		IdleUnload: tune.IdleUnload(),
		LoadRetry:  tune.LoadRetry(),
	}, w, realmLoader{realms: cat}, logger)
	defer parts.Close()
	blocks := &blockStats{}
	parts.SetBlockTicker(blocks.tick)

	reg := players.New(players.Config{SaveInterval: tune.SaveInterval()}, store, logger)

	token := strings.TrimSpace(*authToken)
	if token == "" {
		token = strings.TrimSpace(os.Getenv("REALM_AUTH_TOKEN"))
	}
	wsSrv := ws.NewServer(ws.Config{AuthToken: token, Start: tune.StartLocation()}, w, reg, parts, cat, logger)
	tel := teleport.New(teleportConfig(tune), w, cat, parts, wsSrv, reg, logger)
	wsSrv.SetTeleporter(tel)

	w.SetCollaborators(world.Collaborators{
		Registry:   reg,
		Partitions: parts,
		Network:    wsSrv,
		Audit:      reg,
		Booter:     reg,
	})

	tickLog := persistlog.NewTickLogger(*dataDir)
	teleportLog := persistlog.NewTeleportLogger(*dataDir)
	defer tickLog.Close()
	defer teleportLog.Close()
	var idxTick world.TickLogger
	var idxTeleport teleport.Logger
	if idx != nil {
		idxTick, idxTeleport = idx, idx
	}
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idxTick})
	tel.SetLogger(multiTeleportLogger{a: teleportLog, b: idxTeleport})

	ctx, cancel := signalContext()
	defer cancel()
	if snaps != nil {
		sk := snapshotKeeper{store: snaps, dataDir: *dataDir, keep: *snapKeep, logger: logger}
		go sk.run(ctx, tune.SaveInterval())
	}

	w.OpenWorld("server")
	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(metricsSources{world: w, sessions: wsSrv.Stats, index: idx, blocks: blocks}))

	if envBool("REALM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/world/open", adminWorldHandler(w, false))
		mux.HandleFunc("/admin/v1/world/close", adminWorldHandler(w, true))
	} else {
		logger.Printf("admin endpoints disabled (REALM_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("REALM_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	cancel()
	<-worldDone
	// The loop has exited, so the registry can be drained from here.
	now := time.Now()
	for _, id := range reg.IDs() {
		reg.Remove(id, now)
	}
	w.WaitQueries()
	reg.Close()
	if snaps != nil {
		sk := snapshotKeeper{store: snaps, dataDir: *dataDir, keep: *snapKeep, logger: logger}
		if path := sk.flush(); path != "" {
			logger.Printf("final snapshot %s", path)
		}
	}
	logger.Printf("shutdown complete tick=%d", w.CurrentTick())
}

// snapshotKeeper flushes the character snapshot store, archives the first snapshot
// of each day and prunes old ones.
type snapshotKeeper struct {
	store   *snapshot.Store
	dataDir string
	keep    int
	logger  *log.Logger
}

func (k snapshotKeeper) run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			k.flush()
		}
	}
}

func (k snapshotKeeper) flush() string {
	path, err := k.store.Flush()
	if err != nil {
		k.logger.Printf("snapshot flush: %v", err)
		return ""
	}
	if path == "" {
		return ""
	}
	if day, _, ok, err := archive.ArchiveDaily(filepath.Join(k.dataDir, "archives"), path); err != nil {
		k.logger.Printf("snapshot archive: %v", err)
	} else if ok {
		k.logger.Printf("archived snapshot day=%s", day)
	}
	if _, err := archive.Prune(filepath.Dir(path), k.keep); err != nil {
		k.logger.Printf("snapshot prune: %v", err)
	}
	return path
}

func teleportConfig(tune tuning.Tuning) teleport.Config {
	cfg := teleport.DefaultConfig()
	cfg.MoveTooFar = tune.Teleport.MoveTooFar
	cfg.ZNudge = tune.Teleport.ZNudge
	cfg.MaterializePoll = tune.MaterializePoll()
	cfg.MaterializeMaxPolls = tune.Teleport.MaterializeMaxPolls
	for name := range tune.Teleport.AnimationsMs {
		if kind, ok := teleport.ParseRecallKind(name); ok {
			cfg.Animations[kind] = tune.Animation(name)
		}
	}
	cfg.NoLog = tune.IsNoLog
	return cfg
}

// adminWorldHandler opens or closes the world from loopback callers. Close takes
// ?boot=1 to disconnect everyone.
func adminWorldHandler(w *world.World, closing bool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		by := strings.TrimSpace(r.URL.Query().Get("by"))
		if by == "" {
			by = "admin"
		}
		boot := r.URL.Query().Get("boot") == "1"
		done := make(chan struct{})
		w.EnqueueAction(func() {
			defer close(done)
			if closing {
				w.CloseWorld(by, boot)
			} else {
				w.OpenWorld(by)
			}
		})

		rw.Header().Set("Content-Type", "application/json")
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": "world loop did not respond"})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "status": w.Status().String(), "tick": w.CurrentTick()})
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
