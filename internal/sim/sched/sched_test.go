package sched

import (
	"sync"
	"testing"
	"time"
)

func TestActionQueue_ReentrantEnqueueRunsNextDrain(t *testing.T) {
	var q ActionQueue
	var order []int
	q.Enqueue(func() {
		order = append(order, 1)
		q.Enqueue(func() { order = append(order, 3) })
	})
	q.Enqueue(func() { order = append(order, 2) })

	if n := q.RunActions(); n != 2 {
		t.Fatalf("first drain: ran %d want 2", n)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("first drain order: %v", order)
	}
	if q.Len() != 1 {
		t.Fatalf("action queued during drain should wait: len=%d", q.Len())
	}
	if n := q.RunActions(); n != 1 || order[2] != 3 {
		t.Fatalf("second drain: n=%d order=%v", n, order)
	}
}

func TestActionQueue_PerProducerOrder(t *testing.T) {
	var q ActionQueue
	const producers, per = 8, 200
	var mu sync.Mutex
	seen := make([][]int, producers)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				i := i
				q.Enqueue(func() {
					mu.Lock()
					seen[p] = append(seen[p], i)
					mu.Unlock()
				})
			}
		}(p)
	}
	wg.Wait()
	if n := q.RunActions(); n != producers*per {
		t.Fatalf("ran %d want %d", n, producers*per)
	}
	for p, got := range seen {
		for i, v := range got {
			if v != i {
				t.Fatalf("producer %d out of order at %d: %v", p, i, v)
			}
		}
	}
}

func TestDelayManager_RunsOnlyDueInOrder(t *testing.T) {
	var d DelayManager
	base := time.Unix(1000, 0)
	var order []string
	d.Schedule(base.Add(2*time.Second), func() { order = append(order, "c") })
	d.Schedule(base.Add(time.Second), func() { order = append(order, "a") })
	d.Schedule(base.Add(time.Second), func() { order = append(order, "b") })

	if n := d.RunActions(base.Add(999 * time.Millisecond)); n != 0 {
		t.Fatalf("nothing should be due yet, ran %d", n)
	}
	if n := d.RunActions(base.Add(time.Second)); n != 2 {
		t.Fatalf("ran %d want 2", n)
	}
	if order[0] != "a" || order[1] != "b" {
		t.Fatalf("equal due times should keep schedule order: %v", order)
	}
	next, ok := d.NextDue()
	if !ok || !next.Equal(base.Add(2*time.Second)) {
		t.Fatalf("next due: %v %v", next, ok)
	}
	d.RunActions(base.Add(5 * time.Second))
	if len(order) != 3 || d.Len() != 0 {
		t.Fatalf("final: order=%v len=%d", order, d.Len())
	}
}

func TestDelayManager_ScheduledDuringRunWaits(t *testing.T) {
	var d DelayManager
	now := time.Unix(1000, 0)
	ran := 0
	d.Schedule(now, func() {
		ran++
		d.Schedule(now, func() { ran++ })
	})
	d.RunActions(now)
	if ran != 1 {
		t.Fatalf("nested schedule should not run in the same pass: ran=%d", ran)
	}
	d.RunActions(now)
	if ran != 2 {
		t.Fatalf("nested schedule should run next pass: ran=%d", ran)
	}
}

func TestRateLimiter_ExactlyNPerWindow(t *testing.T) {
	const n = 60
	r := NewRateLimiter(n, time.Second)
	start := time.Unix(5000, 0)
	now := start
	ok := 0
	for i := 0; i < n+5; i++ {
		if r.TryRegister(now) {
			ok++
		}
		now = now.Add(time.Millisecond)
	}
	if ok != n {
		t.Fatalf("back-to-back: got %d registrations want %d", ok, n)
	}
	if w := r.Wait(now); w <= 0 {
		t.Fatalf("expected a wait once the budget is spent, got %v", w)
	}
	// The oldest event leaves the window one second after it was registered.
	if !r.TryRegister(start.Add(time.Second)) {
		t.Fatalf("expected a slot once the oldest event leaves the window")
	}
	if r.TryRegister(start.Add(time.Second)) {
		t.Fatalf("only one slot should have opened")
	}
}

func TestRateLimiter_RollingWindow(t *testing.T) {
	const n = 10
	r := NewRateLimiter(n, time.Second)
	now := time.Unix(0, 0)
	var accepted []time.Time
	for i := 0; i < 5000; i++ {
		if r.TryRegister(now) {
			accepted = append(accepted, now)
		}
		now = now.Add(7 * time.Millisecond)
	}
	for i := n; i < len(accepted); i++ {
		if accepted[i].Sub(accepted[i-n]) < time.Second {
			t.Fatalf("more than %d events within one second ending at %v", n, accepted[i])
		}
	}
}

type fakeScheduler struct {
	now     time.Time
	actions ActionQueue
	delays  DelayManager
}

func (s *fakeScheduler) EnqueueAction(fn Action) { s.actions.Enqueue(fn) }
func (s *fakeScheduler) EnqueueDelayed(d time.Duration, fn Action) {
	s.delays.Schedule(s.now.Add(d), fn)
}

func (s *fakeScheduler) tick(dt time.Duration) {
	s.now = s.now.Add(dt)
	s.actions.RunActions()
	s.delays.RunActions(s.now)
}

func TestChain_DelayThenAction(t *testing.T) {
	s := &fakeScheduler{now: time.Unix(100, 0)}
	var log []string
	c := NewChain().
		Then("cue", func() { log = append(log, "cue") }).
		Delay("animation", 2*time.Second).
		Then("commit", func() { log = append(log, "commit") })

	if got := len(c.Pending()); got != 3 {
		t.Fatalf("pending before start: %d", got)
	}
	c.Start(s)
	s.tick(0)
	if len(log) != 1 || log[0] != "cue" {
		t.Fatalf("after first tick: %v", log)
	}
	p := c.Pending()
	if len(p) != 1 || p[0].Label != "commit" {
		t.Fatalf("pending during delay: %+v", p)
	}
	s.tick(time.Second)
	if len(log) != 1 {
		t.Fatalf("commit ran before delay elapsed: %v", log)
	}
	s.tick(time.Second)
	if len(log) != 2 || !c.Done() || c.Aborted() {
		t.Fatalf("after delay: log=%v done=%v", log, c.Done())
	}
}

func TestChain_CheckAborts(t *testing.T) {
	s := &fakeScheduler{now: time.Unix(100, 0)}
	ran := false
	c := NewChain().
		Check("validate", func() bool { return false }).
		Then("commit", func() { ran = true })
	c.Start(s)
	s.tick(0)
	if ran || !c.Aborted() || c.Pending() != nil {
		t.Fatalf("chain should abort: ran=%v aborted=%v", ran, c.Aborted())
	}
}
