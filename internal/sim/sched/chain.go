package sched

import "time"

// Scheduler is the part of the world a Chain needs to advance.
type Scheduler interface {
	EnqueueAction(fn Action)
	EnqueueDelayed(d time.Duration, fn Action)
}

// StepKind tags a chain step.
type StepKind uint8

const (
	StepAction StepKind = iota
	StepDelay
)

func (k StepKind) String() string {
	switch k {
	case StepAction:
		return "action"
	case StepDelay:
		return "delay"
	default:
		return "unknown"
	}
}

// Step is one continuation record. Action steps return false to abort the chain.
type Step struct {
	Kind  StepKind
	Label string
	Delay time.Duration
	Run   func() bool
}

// Chain is an ordered list of typed steps (delay-then-callback) executed on the tick
// goroutine. A chain is owned by its creator until Start and by the tick goroutine after.
type Chain struct {
	steps   []Step
	next    int
	aborted bool
	started bool
}

func NewChain() *Chain { return &Chain{} }

// Then appends an action step.
func (c *Chain) Then(label string, fn func()) *Chain {
	return c.Check(label, func() bool { fn(); return true })
}

// Check appends an action step that may abort the rest of the chain.
func (c *Chain) Check(label string, fn func() bool) *Chain {
	c.steps = append(c.steps, Step{Kind: StepAction, Label: label, Run: fn})
	return c
}

// Delay appends a wait.
func (c *Chain) Delay(label string, d time.Duration) *Chain {
	if d < 0 {
		d = 0
	}
	c.steps = append(c.steps, Step{Kind: StepDelay, Label: label, Delay: d})
	return c
}

// Pending lists the steps that have not run yet.
func (c *Chain) Pending() []Step {
	if c.next >= len(c.steps) || c.aborted {
		return nil
	}
	out := make([]Step, len(c.steps)-c.next)
	copy(out, c.steps[c.next:])
	return out
}

func (c *Chain) Done() bool    { return c.aborted || c.next >= len(c.steps) }
func (c *Chain) Aborted() bool { return c.aborted }

// Start hands the chain to s. The first step runs at the next action drain.
func (c *Chain) Start(s Scheduler) {
	if c.started {
		return
	}
	c.started = true
	s.EnqueueAction(func() { c.advance(s) })
}

func (c *Chain) advance(s Scheduler) {
	for !c.Done() {
		st := c.steps[c.next]
		c.next++
		switch st.Kind {
		case StepDelay:
			s.EnqueueDelayed(st.Delay, func() { c.advance(s) })
			return
		default:
			if st.Run != nil && !st.Run() {
				c.aborted = true
				return
			}
		}
	}
}
