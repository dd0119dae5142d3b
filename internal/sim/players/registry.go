package players

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"realmshard.io/internal/sim/spatial"
	"realmshard.io/internal/sim/teleport"
	"realmshard.io/internal/sim/world"
)

// Character is the persisted form of an actor.
type Character struct {
	ID              string
	Name            string
	AccountID       uint32
	Role            teleport.Role
	HomeRealm       uint16
	Location        spatial.Position
	Home            spatial.Position
	Sanctuary       *spatial.Position
	EphemeralExitTo *spatial.Position
	SavedAt         time.Time
}

// Store loads and saves characters. Calls happen off the tick goroutine.
type Store interface {
	LoadCharacter(ctx context.Context, id string) (Character, bool, error)
	SaveCharacter(ctx context.Context, c Character) error
}

// Session is the connection an online actor is bound to.
type Session interface {
	SystemChat(text string)
	Boot(reason string)
}

type Config struct {
	SaveInterval time.Duration
}

type entry struct {
	actor    *teleport.Actor
	session  Session
	lastSave time.Time
}

// saveQueue holds the snapshots of one character that are waiting for the store.
// done closes once the queue drains.
type saveQueue struct {
	items []Character
	done  chan struct{}
}

// Registry tracks online actors. It is owned by the tick goroutine; saves are handed to
// the Store off it, one writer per character so snapshots land in the order taken.
type Registry struct {
	cfg    Config
	logger *log.Logger
	store  Store

	online map[string]*entry

	mu      sync.Mutex
	pending map[string]*saveQueue

	saves  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store Store, logger *log.Logger) *Registry {
	if cfg.SaveInterval <= 0 {
		cfg.SaveInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:    cfg,
		logger: logger,
		store:  store,
		online:  map[string]*entry{},
		pending: map[string]*saveQueue{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Load fetches a character off the tick goroutine and hands it to done on the tick goroutine.
// A character that is not stored yet comes back with found=false. Saves still queued
// for id are written first so a quick relog reads its own logout.
func (r *Registry) Load(w *world.World, id string, done func(c Character, found bool, err error)) {
	type result struct {
		c     Character
		found bool
	}
	world.Query(w, func() (result, error) {
		if r.store == nil {
			return result{}, nil
		}
		if err := r.waitSaved(r.ctx, id); err != nil {
			return result{}, err
		}
		c, ok, err := r.store.LoadCharacter(r.ctx, id)
		return result{c: c, found: ok}, err
	}, func(res result, err error) {
		done(res.c, res.found, err)
	})
}

// Add registers an actor as online.
func (r *Registry) Add(a *teleport.Actor, s Session, now time.Time) {
	r.online[a.ID] = &entry{actor: a, session: s, lastSave: now}
	r.logger.Printf("player online id=%s name=%s account=%d", a.ID, a.Name, a.AccountID)
}

// Remove takes the actor offline and saves it one last time.
func (r *Registry) Remove(id string, now time.Time) {
	e, ok := r.online[id]
	if !ok {
		return
	}
	delete(r.online, id)
	e.actor.Offline = true
	r.save(e, now)
	r.logger.Printf("player offline id=%s", id)
}

func (r *Registry) Get(id string) (*teleport.Actor, bool) {
	e, ok := r.online[id]
	if !ok {
		return nil, false
	}
	return e.actor, true
}

func (r *Registry) Session(id string) (Session, bool) {
	e, ok := r.online[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

func (r *Registry) Count() int { return len(r.online) }

// IDs lists online actor ids in ascending order.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.online))
	for id := range r.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tick saves every actor whose save interval has elapsed.
func (r *Registry) Tick(now time.Time) {
	for _, id := range r.IDs() {
		e := r.online[id]
		if now.Sub(e.lastSave) >= r.cfg.SaveInterval {
			r.save(e, now)
		}
	}
}

func (r *Registry) save(e *entry, now time.Time) {
	e.lastSave = now
	if r.store == nil {
		return
	}
	c := Snapshot(e.actor, now)

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.pending[c.ID]; ok {
		q.items = append(q.items, c)
		return
	}
	q := &saveQueue{items: []Character{c}, done: make(chan struct{})}
	r.pending[c.ID] = q
	r.saves.Add(1)
	go r.drain(c.ID, q)
}

func (r *Registry) drain(id string, q *saveQueue) {
	defer r.saves.Done()
	for {
		r.mu.Lock()
		if len(q.items) == 0 {
			delete(r.pending, id)
			close(q.done)
			r.mu.Unlock()
			return
		}
		c := q.items[0]
		q.items = q.items[1:]
		r.mu.Unlock()

		if err := r.store.SaveCharacter(r.ctx, c); err != nil {
			r.logger.Printf("save failed id=%s err=%v", c.ID, err)
		}
	}
}

// waitSaved blocks until no save for id is queued or in flight.
func (r *Registry) waitSaved(ctx context.Context, id string) error {
	for {
		r.mu.Lock()
		q, ok := r.pending[id]
		r.mu.Unlock()
		if !ok {
			return nil
		}
		select {
		case <-q.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Flush waits for in-flight saves.
func (r *Registry) Flush() { r.saves.Wait() }

// Close waits for in-flight saves and then cancels the store context.
func (r *Registry) Close() {
	r.saves.Wait()
	r.cancel()
}

// FellowshipOf implements teleport.Directory.
func (r *Registry) FellowshipOf(actorID string) string {
	if e, ok := r.online[actorID]; ok {
		return e.actor.FellowshipID
	}
	return ""
}

// BroadcastAudit sends an administrative notice to every privileged actor.
func (r *Registry) BroadcastAudit(by, message string) {
	r.logger.Printf("audit by=%s msg=%q", by, message)
	for _, id := range r.IDs() {
		e := r.online[id]
		if e.actor.IsPrivileged() && e.session != nil {
			e.session.SystemChat(by + ": " + message)
		}
	}
}

// BootAll disconnects every online actor.
func (r *Registry) BootAll(reason string) {
	for _, id := range r.IDs() {
		if e := r.online[id]; e.session != nil {
			e.session.Boot(reason)
		}
	}
}

// Snapshot copies the persisted fields of a.
func Snapshot(a *teleport.Actor, now time.Time) Character {
	c := Character{
		ID:        a.ID,
		Name:      a.Name,
		AccountID: a.AccountID,
		Role:      a.Role,
		HomeRealm: a.HomeRealm,
		Location:  a.Location,
		Home:      a.Home,
		SavedAt:   now,
	}
	if a.Sanctuary != nil {
		s := *a.Sanctuary
		c.Sanctuary = &s
	}
	if a.EphemeralExitTo != nil {
		x := *a.EphemeralExitTo
		c.EphemeralExitTo = &x
	}
	return c
}

// Actor builds a live actor from a stored character.
func (c Character) Actor() *teleport.Actor {
	a := teleport.NewActor(c.ID, c.Name, c.AccountID, c.HomeRealm, c.Location)
	a.Role = c.Role
	a.Home = c.Home
	a.Sanctuary = c.Sanctuary
	a.EphemeralExitTo = c.EphemeralExitTo
	return a
}
