package world

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

type recorder struct {
	log *[]string
	tag string
}

func (r recorder) Tick(time.Time) { *r.log = append(*r.log, r.tag) }

type fakeNetwork struct {
	log      *[]string
	sessions int
}

func (n *fakeNetwork) DoSessionWork() int {
	if n.log != nil {
		*n.log = append(*n.log, "network")
	}
	return n.sessions
}

type fakeAudit struct {
	msgs  []string
	boots int
}

func (a *fakeAudit) BroadcastAudit(by, message string) { a.msgs = append(a.msgs, by+": "+message) }
func (a *fakeAudit) BootAll(string)                    { a.boots++ }

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) sleep(d time.Duration)   { c.t = c.t.Add(d) }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWorld(t *testing.T, c Collaborators) (*World, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := New(DefaultConfig(), c, nil)
	w.SetClock(clk.now, clk.sleep)
	return w, clk
}

func TestStepOnce_PhaseOrder(t *testing.T) {
	var log []string
	w, _ := newTestWorld(t, Collaborators{
		Registry:   recorder{&log, "registry"},
		Partitions: recorder{&log, "partitions"},
		Subsystems: []Ticker{recorder{&log, "houses"}},
		Network:    &fakeNetwork{log: &log, sessions: 1},
	})
	w.EnqueueDelayed(0, func() { log = append(log, "delayed") })
	w.EnqueueAction(func() { log = append(log, "action") })
	w.EnqueueInbound(func() { log = append(log, "inbound") })

	rep := w.StepOnce()
	want := []string{"registry", "inbound", "action", "delayed", "partitions", "houses", "network"}
	if len(log) != len(want) {
		t.Fatalf("phases: got %v want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("phase %d: got %q want %q (all=%v)", i, log[i], want[i], log)
		}
	}
	if !rep.Updated || rep.Sleep != 0 || rep.Sessions != 1 {
		t.Fatalf("report: %+v", rep)
	}
	if rep.Inbound != 1 || rep.Actions != 1 || rep.Delayed != 1 {
		t.Fatalf("counts: %+v", rep)
	}
}

func TestStepOnce_ActionsQueuedDuringDrainRunNextTick(t *testing.T) {
	w, _ := newTestWorld(t, Collaborators{})
	ran := 0
	w.EnqueueAction(func() {
		w.EnqueueAction(func() { ran++ })
	})
	w.StepOnce()
	if ran != 0 {
		t.Fatalf("nested action ran re-entrantly")
	}
	w.StepOnce()
	if ran != 1 {
		t.Fatalf("nested action should run on the next tick: ran=%d", ran)
	}
}

func TestStepOnce_UpdateGatedAndSleeps(t *testing.T) {
	var log []string
	net := &fakeNetwork{}
	w, clk := newTestWorld(t, Collaborators{Partitions: recorder{&log, "partitions"}, Network: net})

	updates := 0
	for i := 0; i < 100; i++ {
		rep := w.StepOnce()
		if rep.Updated {
			updates++
			if rep.Sleep != 0 {
				t.Fatalf("no sleep expected after an update, got %v", rep.Sleep)
			}
			continue
		}
		if rep.Sleep != w.Config().IdleSleep {
			t.Fatalf("idle sleep with zero sessions: got %v", rep.Sleep)
		}
	}
	if updates != 60 || len(log) != 60 {
		t.Fatalf("updates within one frozen second: got %d (ticks=%d) want 60", updates, len(log))
	}

	net.sessions = 3
	rep := w.StepOnce()
	if rep.Updated || rep.Sleep != w.Config().BusySleep || rep.Sessions != 3 {
		t.Fatalf("busy sleep expected: %+v", rep)
	}

	clk.advance(time.Second)
	if rep := w.StepOnce(); !rep.Updated {
		t.Fatalf("update budget should refill after the window")
	}
}

func TestRun_StopsAndAccumulatesWorldTime(t *testing.T) {
	w, clk := newTestWorld(t, Collaborators{})
	var activeDuringRun bool
	steps := 0
	var tick func()
	tick = func() {
		steps++
		activeDuringRun = w.Active()
		clk.advance(5 * time.Millisecond)
		if steps == 10 {
			w.StopWorld()
			return
		}
		w.EnqueueAction(tick)
	}
	w.EnqueueAction(tick)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !activeDuringRun {
		t.Fatalf("world should report active while running")
	}
	if w.Active() {
		t.Fatalf("world should be inactive after the loop exits")
	}
	if steps != 10 {
		t.Fatalf("steps: got %d", steps)
	}
	if w.WorldTime() < 50*time.Millisecond {
		t.Fatalf("world time should include step time: %v", w.WorldTime())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	w, _ := newTestWorld(t, Collaborators{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !w.pendingStop.Load() {
		t.Fatalf("cancellation should raise the stop flag")
	}
}

func TestRun_CancelMidTickFinishesStep(t *testing.T) {
	w, _ := newTestWorld(t, Collaborators{})
	ctx, cancel := context.WithCancel(context.Background())
	var laterRan bool
	w.EnqueueAction(func() {
		cancel()
		// Wait for the stop flag so the exit is deterministic.
		for !w.pendingStop.Load() {
			time.Sleep(time.Millisecond)
		}
	})
	w.EnqueueAction(func() { laterRan = true })
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !laterRan {
		t.Fatalf("actions queued in the canceled step should still drain")
	}
	if w.Active() {
		t.Fatalf("world should be inactive after the loop exits")
	}
}

type failingTickLog struct{ calls int }

func (f *failingTickLog) WriteTick(TickLogEntry) error {
	f.calls++
	return errors.New("disk full")
}

func TestStepOnce_LogsTickLogFailure(t *testing.T) {
	var buf bytes.Buffer
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	w := New(DefaultConfig(), Collaborators{}, log.New(&buf, "", 0))
	w.SetClock(clk.now, clk.sleep)
	tl := &failingTickLog{}
	w.SetTickLogger(tl)

	if rep := w.StepOnce(); !rep.Updated {
		t.Fatalf("first step should update: %+v", rep)
	}
	if tl.calls != 1 {
		t.Fatalf("tick log calls: got %d", tl.calls)
	}
	if !strings.Contains(buf.String(), "tick log write failed") || !strings.Contains(buf.String(), "disk full") {
		t.Fatalf("write failure not logged: %q", buf.String())
	}
}

func TestQuery_HandsBackOnTickGoroutine(t *testing.T) {
	w, _ := newTestWorld(t, Collaborators{})
	var got int
	var gotErr error
	Query(w, func() (int, error) { return 42, nil }, func(v int, err error) {
		got, gotErr = v, err
	})
	w.WaitQueries()
	if got != 0 {
		t.Fatalf("result delivered before the action drain")
	}
	w.StepOnce()
	if got != 42 || gotErr != nil {
		t.Fatalf("query result: got %d err=%v", got, gotErr)
	}
}

func TestOpenClose_AuditAndBoot(t *testing.T) {
	a := &fakeAudit{}
	w, _ := newTestWorld(t, Collaborators{Audit: a, Booter: a})
	if w.Status() != Closed {
		t.Fatalf("new world should start closed")
	}
	w.OpenWorld("admin")
	if w.Status() != Open || len(a.msgs) != 1 || a.msgs[0] != "admin: World is now open" {
		t.Fatalf("open: status=%s msgs=%v", w.Status(), a.msgs)
	}
	w.CloseWorld("admin", true)
	if w.Status() != Closed || a.boots != 1 {
		t.Fatalf("close: status=%s boots=%d", w.Status(), a.boots)
	}
	w.CloseWorld("admin", false)
	if a.boots != 1 {
		t.Fatalf("close without boot should not boot")
	}
}
