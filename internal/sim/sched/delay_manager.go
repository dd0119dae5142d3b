package sched

import (
	"container/heap"
	"sync"
	"time"
)

type delayed struct {
	due time.Time
	seq uint64
	fn  Action
}

type delayHeap []delayed

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)   { *h = append(*h, x.(delayed)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = delayed{}
	*h = old[:n-1]
	return it
}

// DelayManager holds actions that must not run before an absolute due time.
// Schedule is safe from any goroutine; RunActions belongs to the tick goroutine.
type DelayManager struct {
	mu  sync.Mutex
	h   delayHeap
	seq uint64
	due []delayed
}

// Schedule adds fn to run at or after due. Equal due times run in schedule order.
func (d *DelayManager) Schedule(due time.Time, fn Action) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.seq++
	heap.Push(&d.h, delayed{due: due, seq: d.seq, fn: fn})
	d.mu.Unlock()
}

func (d *DelayManager) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h.Len()
}

// NextDue reports the earliest due time, if any.
func (d *DelayManager) NextDue() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.h.Len() == 0 {
		return time.Time{}, false
	}
	return d.h[0].due, true
}

// RunActions runs every action due at or before now. Actions scheduled while running,
// even if already due, wait for the next call.
func (d *DelayManager) RunActions(now time.Time) int {
	d.mu.Lock()
	d.due = d.due[:0]
	for d.h.Len() > 0 && !d.h[0].due.After(now) {
		d.due = append(d.due, heap.Pop(&d.h).(delayed))
	}
	batch := d.due
	d.due = nil
	d.mu.Unlock()

	for i := range batch {
		batch[i].fn()
		batch[i] = delayed{}
	}

	d.mu.Lock()
	if d.due == nil {
		d.due = batch[:0]
	}
	d.mu.Unlock()
	return len(batch)
}
