package world

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"realmshard.io/internal/sim/sched"
)

type Config struct {
	// TargetUpdateHz caps how often the world simulation phase runs.
	TargetUpdateHz int
	// IdleSleep is used when no session is connected, BusySleep otherwise.
	IdleSleep time.Duration
	BusySleep time.Duration
}

func DefaultConfig() Config {
	return Config{TargetUpdateHz: 60, IdleSleep: 10 * time.Millisecond, BusySleep: time.Millisecond}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.TargetUpdateHz <= 0 {
		c.TargetUpdateHz = d.TargetUpdateHz
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = d.IdleSleep
	}
	if c.BusySleep <= 0 {
		c.BusySleep = d.BusySleep
	}
}

type Status int32

const (
	Closed Status = iota
	Open
)

func (s Status) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// Registry does per-tick bookkeeping over connected actors (save timers and so on).
type Registry interface {
	Tick(now time.Time)
}

// Ticker is a world subsystem advanced in the rate-limited update phase.
type Ticker interface {
	Tick(now time.Time)
}

// Network drives outbound session I/O and reports how many sessions it processed.
type Network interface {
	DoSessionWork() int
}

// Audit receives administrative notices.
type Audit interface {
	BroadcastAudit(by, message string)
}

// Booter disconnects every connected actor.
type Booter interface {
	BootAll(reason string)
}

// Collaborators are the external pieces the tick loop drives. Any may be nil.
type Collaborators struct {
	Registry   Registry
	Partitions Ticker
	Subsystems []Ticker
	Network    Network
	Audit      Audit
	Booter     Booter
}

// TickLogger is optional. Implemented in internal/persistence/log.
type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type TickLogEntry struct {
	Tick        uint64 `json:"tick"`
	UnixMs      int64  `json:"unix_ms"`
	Inbound     int    `json:"inbound,omitempty"`
	Actions     int    `json:"actions,omitempty"`
	Delayed     int    `json:"delayed,omitempty"`
	Sessions    int    `json:"sessions"`
	WorldTimeMs int64  `json:"world_time_ms"`
}

// TickReport describes one loop iteration.
type TickReport struct {
	Tick     uint64
	Inbound  int
	Actions  int
	Delayed  int
	Updated  bool
	Sessions int
	// Sleep is how long the loop should idle after this iteration.
	Sleep   time.Duration
	Elapsed time.Duration
}

// World is the single authoritative tick loop. Every mutation of shared world state
// happens on the goroutine running Run (or the caller of StepOnce in tests); other
// goroutines hand work over with EnqueueAction, EnqueueInbound and EnqueueDelayed.
type World struct {
	cfg    Config
	logger *log.Logger
	c      Collaborators

	inbound sched.ActionQueue
	actions sched.ActionQueue
	delays  sched.DelayManager
	limiter *sched.RateLimiter

	now   func() time.Time
	sleep func(time.Duration)

	active      atomic.Bool
	pendingStop atomic.Bool
	status      atomic.Int32
	tick        atomic.Uint64
	worldTime   atomic.Int64

	lastStep time.Time
	queries  sync.WaitGroup

	tickLogger TickLogger
}

func New(cfg Config, c Collaborators, logger *log.Logger) *World {
	cfg.normalize()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &World{
		cfg:     cfg,
		logger:  logger,
		c:       c,
		limiter: sched.NewRateLimiter(cfg.TargetUpdateHz, time.Second),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

func (w *World) SetTickLogger(l TickLogger) { w.tickLogger = l }

// SetCollaborators replaces the collaborators passed to New. Components that need the
// World as their scheduler are built after it and attached here, before Run.
func (w *World) SetCollaborators(c Collaborators) { w.c = c }

// SetClock replaces the wall clock and sleeper. It must be called before Run.
func (w *World) SetClock(now func() time.Time, sleep func(time.Duration)) {
	if now != nil {
		w.now = now
	}
	if sleep != nil {
		w.sleep = sleep
	}
}

func (w *World) Now() time.Time      { return w.now() }
func (w *World) Config() Config      { return w.cfg }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }
func (w *World) Active() bool        { return w.active.Load() }
func (w *World) Status() Status      { return Status(w.status.Load()) }

// WorldTime is the accumulated wall-clock time spent in the loop.
func (w *World) WorldTime() time.Duration { return time.Duration(w.worldTime.Load()) }

// EnqueueAction schedules fn for the next action drain. Safe from any goroutine.
func (w *World) EnqueueAction(fn sched.Action) { w.actions.Enqueue(fn) }

// EnqueueInbound queues an already-decoded network message handler. Safe from any goroutine.
func (w *World) EnqueueInbound(fn sched.Action) { w.inbound.Enqueue(fn) }

// EnqueueDelayed schedules fn to run on the tick goroutine no earlier than d from now.
func (w *World) EnqueueDelayed(d time.Duration, fn sched.Action) {
	w.delays.Schedule(w.now().Add(d), fn)
}

// Query runs fn off the tick goroutine and hands its result to done on the tick
// goroutine. fn must not touch world state.
func Query[T any](w *World, fn func() (T, error), done func(T, error)) {
	w.queries.Add(1)
	go func() {
		defer w.queries.Done()
		v, err := fn()
		w.EnqueueAction(func() { done(v, err) })
	}()
}

// WaitQueries blocks until every in-flight Query has handed back its result.
func (w *World) WaitQueries() { w.queries.Wait() }

// StopWorld asks the loop to exit after the current iteration.
func (w *World) StopWorld() { w.pendingStop.Store(true) }

// Run drives StepOnce until StopWorld is called or ctx is done.
func (w *World) Run(ctx context.Context) error {
	w.active.Store(true)
	defer w.active.Store(false)
	w.lastStep = w.now()
	w.logger.Printf("world loop started update_hz=%d", w.cfg.TargetUpdateHz)

	// Cancellation only raises the stop flag; the loop itself never looks at ctx.
	release := context.AfterFunc(ctx, w.StopWorld)
	defer release()

	for !w.pendingStop.Load() {
		rep := w.StepOnce()
		if rep.Sleep > 0 {
			w.sleep(rep.Sleep)
		}
	}
	w.logger.Printf("world loop stopped tick=%d world_time=%s", w.tick.Load(), w.WorldTime())
	if err := ctx.Err(); err != nil {
		w.logger.Printf("world loop canceled: %v", err)
		return err
	}
	return nil
}

// StepOnce runs one loop iteration in the fixed phase order. It does not sleep; the
// returned report carries the idle time Run would use.
func (w *World) StepOnce() TickReport {
	now := w.now()
	if w.lastStep.IsZero() {
		w.lastStep = now
	}
	rep := TickReport{Tick: w.tick.Load()}

	if w.c.Registry != nil {
		w.c.Registry.Tick(now)
	}
	rep.Inbound = w.inbound.RunActions()
	rep.Actions = w.actions.RunActions()
	rep.Delayed = w.delays.RunActions(now)

	if w.limiter.TryRegister(now) {
		rep.Updated = true
		w.updateGameWorld(now)
	}

	if w.c.Network != nil {
		rep.Sessions = w.c.Network.DoSessionWork()
	}

	if !rep.Updated {
		if rep.Sessions == 0 {
			rep.Sleep = w.cfg.IdleSleep
		} else {
			rep.Sleep = w.cfg.BusySleep
		}
	}

	end := w.now()
	rep.Elapsed = end.Sub(w.lastStep)
	if rep.Elapsed < 0 {
		rep.Elapsed = 0
	}
	w.lastStep = end
	w.worldTime.Add(int64(rep.Elapsed))
	w.tick.Add(1)

	if w.tickLogger != nil && rep.Updated {
		err := w.tickLogger.WriteTick(TickLogEntry{
			Tick:        rep.Tick,
			UnixMs:      end.UnixMilli(),
			Inbound:     rep.Inbound,
			Actions:     rep.Actions,
			Delayed:     rep.Delayed,
			Sessions:    rep.Sessions,
			WorldTimeMs: w.WorldTime().Milliseconds(),
		})
		if err != nil {
			w.logger.Printf("tick log write failed tick=%d: %v", rep.Tick, err)
		}
	}
	return rep
}

func (w *World) updateGameWorld(now time.Time) {
	if w.c.Partitions != nil {
		w.c.Partitions.Tick(now)
	}
	for _, s := range w.c.Subsystems {
		if s != nil {
			s.Tick(now)
		}
	}
}

// OpenWorld marks the world open and notifies the audit channel.
func (w *World) OpenWorld(by string) {
	w.status.Store(int32(Open))
	w.logger.Printf("world open by=%s", by)
	if w.c.Audit != nil {
		w.c.Audit.BroadcastAudit(by, "World is now open")
	}
}

// CloseWorld marks the world closed; with boot every connected actor is disconnected.
func (w *World) CloseWorld(by string, boot bool) {
	w.status.Store(int32(Closed))
	w.logger.Printf("world closed by=%s boot=%v", by, boot)
	if w.c.Audit != nil {
		w.c.Audit.BroadcastAudit(by, "World is now closed")
	}
	if boot && w.c.Booter != nil {
		if w.c.Audit != nil {
			w.c.Audit.BroadcastAudit(by, "Booting all players")
		}
		w.c.Booter.BootAll("world closed")
	}
}
