package partition

import (
	"context"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"realmshard.io/internal/sim/sched"
	"realmshard.io/internal/sim/spatial"
)

// Key identifies one concrete landblock: a tile in a specific instance.
type Key struct {
	Instance  spatial.InstanceID
	Landblock uint16
}

func KeyOf(p spatial.Position) Key {
	return Key{Instance: p.Instance, Landblock: p.Landblock()}
}

func (k Key) X() int { return int(k.Landblock >> 8) }
func (k Key) Y() int { return int(k.Landblock & 0xFF) }

// Loader fetches landblock content. It runs off the tick goroutine.
type Loader interface {
	LoadContent(ctx context.Context, key Key) error
}

// BlockTicker is called once per landblock per update, on the worker that owns its group.
type BlockTicker func(worker int, lb *Landblock, now time.Time)

type Config struct {
	Workers    int
	IdleUnload time.Duration
	LoadRetry  time.Duration
}

// Landblock is a loaded tile. Fields are owned by the tick goroutine, except during the
// parallel phase where only the owning worker touches it.
type Landblock struct {
	Key Key

	ready      bool
	loading    bool
	actors     map[string]struct{}
	lastActive time.Time
	ticks      uint64
}

func (lb *Landblock) Ready() bool     { return lb.ready }
func (lb *Landblock) ActorCount() int { return len(lb.actors) }
func (lb *Landblock) Ticks() uint64   { return lb.ticks }

// Manager owns the landblock set, the per-tick landblock groups and the ephemeral
// instance registry. All methods except the loader callbacks run on the tick goroutine.
type Manager struct {
	cfg    Config
	logger *log.Logger
	sched  sched.Scheduler
	loader Loader
	ticker BlockTicker
	now    func() time.Time

	blocks    map[Key]*Landblock
	actorAt   map[string]Key
	instances map[spatial.InstanceID]*Instance

	groups     [][]Key
	assignment map[Key]int

	ctx    context.Context
	cancel context.CancelFunc
	loads  sync.WaitGroup
}

func NewManager(cfg Config, s sched.Scheduler, loader Loader, logger *log.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LoadRetry <= 0 {
		cfg.LoadRetry = time.Second
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		sched:      s,
		loader:     loader,
		now:        time.Now,
		blocks:     map[Key]*Landblock{},
		actorAt:    map[string]Key{},
		instances:  map[spatial.InstanceID]*Instance{},
		assignment: map[Key]int{},
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (m *Manager) SetBlockTicker(fn BlockTicker) { m.ticker = fn }
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) Landblock(k Key) (*Landblock, bool) {
	lb, ok := m.blocks[k]
	return lb, ok
}

// Close cancels in-flight loads and waits for their goroutines.
func (m *Manager) Close() {
	m.cancel()
	m.loads.Wait()
}

// EnsureLoaded returns the landblock for k, starting an async content load if it is new.
// Readiness is handed back to the tick goroutine through the scheduler.
func (m *Manager) EnsureLoaded(k Key) *Landblock {
	lb, ok := m.blocks[k]
	if !ok {
		lb = &Landblock{Key: k, actors: map[string]struct{}{}, lastActive: m.now()}
		m.blocks[k] = lb
	}
	if !lb.ready && !lb.loading {
		m.startLoad(lb)
	}
	return lb
}

func (m *Manager) startLoad(lb *Landblock) {
	if m.loader == nil {
		lb.ready = true
		return
	}
	lb.loading = true
	k := lb.Key
	m.loads.Add(1)
	go func() {
		defer m.loads.Done()
		err := m.loader.LoadContent(m.ctx, k)
		m.sched.EnqueueAction(func() { m.finishLoad(k, err) })
	}()
}

func (m *Manager) finishLoad(k Key, err error) {
	lb, ok := m.blocks[k]
	if !ok {
		return
	}
	lb.loading = false
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.logger.Printf("landblock load failed instance=%08X lb=%04X err=%v retry=%s", k.Instance.Raw(), k.Landblock, err, m.cfg.LoadRetry)
		m.sched.EnqueueDelayed(m.cfg.LoadRetry, func() {
			if lb, ok := m.blocks[k]; ok && !lb.ready && !lb.loading {
				m.startLoad(lb)
			}
		})
		return
	}
	lb.ready = true
}

// IsReady reports whether the destination landblock has finished loading.
func (m *Manager) IsReady(k Key) bool {
	lb, ok := m.blocks[k]
	return ok && lb.ready
}

// Move records actorID as present in to, taking it out of its previous landblock.
func (m *Manager) Move(actorID string, to Key) {
	if from, ok := m.actorAt[actorID]; ok {
		if lb := m.blocks[from]; lb != nil {
			delete(lb.actors, actorID)
			lb.lastActive = m.now()
		}
	}
	lb := m.EnsureLoaded(to)
	lb.actors[actorID] = struct{}{}
	lb.lastActive = m.now()
	m.actorAt[actorID] = to
}

// Remove drops actorID from whatever landblock holds it.
func (m *Manager) Remove(actorID string) {
	from, ok := m.actorAt[actorID]
	if !ok {
		return
	}
	delete(m.actorAt, actorID)
	if lb := m.blocks[from]; lb != nil {
		delete(lb.actors, actorID)
		lb.lastActive = m.now()
	}
}

func (m *Manager) ActorLandblock(actorID string) (Key, bool) {
	k, ok := m.actorAt[actorID]
	return k, ok
}

// Groups returns the landblock groups computed by the last Tick.
func (m *Manager) Groups() [][]Key { return m.groups }

// WorkerFor returns the worker assigned to k by the last Tick.
func (m *Manager) WorkerFor(k Key) (int, bool) {
	w, ok := m.assignment[k]
	return w, ok
}

// Tick regroups the loaded landblocks, assigns groups to workers and runs each worker's
// landblocks in parallel. Landblocks in one group always share a worker.
func (m *Manager) Tick(now time.Time) {
	m.unloadIdle(now)
	m.regroup()

	buckets := make([][]*Landblock, m.cfg.Workers)
	for k, w := range m.assignment {
		if lb := m.blocks[k]; lb != nil && lb.ready {
			buckets[w] = append(buckets[w], lb)
		}
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.Workers)
	for w := range buckets {
		if len(buckets[w]) == 0 {
			continue
		}
		w := w
		g.Go(func() error {
			for _, lb := range buckets[w] {
				lb.ticks++
				if m.ticker != nil {
					m.ticker(w, lb, now)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// regroup merges active landblocks with their 8 neighbors in the same instance and
// balances the resulting groups over the workers, largest first.
func (m *Manager) regroup() {
	keys := make([]Key, 0, len(m.blocks))
	for k := range m.blocks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keyLess(keys[i], keys[j]) })

	uf := newUnionFind(keys)
	for _, k := range keys {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				nx, ny := k.X()+dx, k.Y()+dy
				if nx < 0 || ny < 0 || nx > 0xFF || ny > 0xFF {
					continue
				}
				n := Key{Instance: k.Instance, Landblock: uint16(nx<<8 | ny)}
				if _, ok := m.blocks[n]; ok {
					uf.union(k, n)
				}
			}
		}
	}

	m.groups = uf.groups(keys)
	sort.SliceStable(m.groups, func(i, j int) bool { return len(m.groups[i]) > len(m.groups[j]) })

	load := make([]int, m.cfg.Workers)
	m.assignment = make(map[Key]int, len(keys))
	for _, grp := range m.groups {
		w := 0
		for i := 1; i < len(load); i++ {
			if load[i] < load[w] {
				w = i
			}
		}
		load[w] += len(grp)
		for _, k := range grp {
			m.assignment[k] = w
		}
	}
}

func (m *Manager) unloadIdle(now time.Time) {
	if m.cfg.IdleUnload <= 0 {
		return
	}
	for k, lb := range m.blocks {
		if len(lb.actors) > 0 || lb.loading {
			continue
		}
		if _, live := m.instances[k.Instance]; live {
			continue
		}
		if now.Sub(lb.lastActive) >= m.cfg.IdleUnload {
			delete(m.blocks, k)
			m.logger.Printf("landblock unloaded instance=%08X lb=%04X", k.Instance.Raw(), k.Landblock)
		}
	}
}

func (m *Manager) LoadedCount() int { return len(m.blocks) }

func keyLess(a, b Key) bool {
	if a.Instance != b.Instance {
		return a.Instance < b.Instance
	}
	return a.Landblock < b.Landblock
}
