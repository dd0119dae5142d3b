package sched

import "sync"

// Action is a unit of deferred work. It always runs on the tick goroutine.
type Action func()

// ActionQueue is a multi-producer, single-consumer queue of actions.
// Enqueue is safe from any goroutine; RunActions must only be called by the tick goroutine.
type ActionQueue struct {
	mu      sync.Mutex
	pending []Action
	spare   []Action
}

// Enqueue schedules fn for the next drain. Actions from one goroutine run in enqueue order.
func (q *ActionQueue) Enqueue(fn Action) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
}

func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunActions runs every action queued before the call. Actions enqueued while draining
// are left for the next call. It returns the number of actions run.
func (q *ActionQueue) RunActions() int {
	q.mu.Lock()
	batch := q.pending
	q.pending = q.spare[:0]
	q.mu.Unlock()

	for i, fn := range batch {
		fn()
		batch[i] = nil
	}

	q.mu.Lock()
	q.spare = batch[:0]
	q.mu.Unlock()
	return len(batch)
}
