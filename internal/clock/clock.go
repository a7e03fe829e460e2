// Package clock implements the deterministic simulated clock that
// drives the entire backtest: the current simulated time, and a
// min-heap of scheduled callbacks due at or before that time.
//
// The clock never moves backward and never lets a callback run ahead of
// now(). Callbacks are invoked outside the heap's lock so that a
// callback is free to schedule further events or call back into the
// clock without deadlocking — the same "release the lock before
// invoking the handler" discipline a blocking rate limiter needs for
// its own Wait loop.
package clock

import (
	"container/heap"
	"fmt"
	"log/slog"
	"sync"

	"github.com/0xtitan6/backtest-engine/pkg/types"
)

// ErrClockRewind is returned by AdvanceTo when asked to move backward.
var ErrClockRewind = fmt.Errorf("clock: cannot advance to a time before now")

// CallbackFunc is invoked when a scheduled event comes due.
type CallbackFunc func(now types.Timestamp)

// eventHeap is a container/heap implementation ordered by (Due, Sequence).
type eventHeap []*types.ScheduledEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Due != h[j].Due {
		return h[i].Due < h[j].Due
	}
	return h[i].Sequence < h[j].Sequence
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*types.ScheduledEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// SimClock is the single source of truth for simulated time. All engine
// components observe time exclusively through it; nothing in this
// package reads the wall clock.
type SimClock struct {
	mu       sync.Mutex
	now      types.Timestamp
	heap     eventHeap
	sequence uint64
	logger   *slog.Logger
}

// New creates a clock starting at t=0.
func New(logger *slog.Logger) *SimClock {
	if logger == nil {
		logger = slog.Default()
	}
	return &SimClock{logger: logger.With("component", "clock")}
}

// Now returns the current simulated time.
func (c *SimClock) Now() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NextEventTime returns the earliest due time among scheduled events, if
// any are pending.
func (c *SimClock) NextEventTime() (types.Timestamp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heap) == 0 {
		return 0, false
	}
	return c.heap[0].Due, true
}

// Schedule queues cb to run the next time the clock advances to or past
// at. A due time in the past is allowed — it fires on the very next
// AdvanceTo/AdvanceBy call, never retroactively.
func (c *SimClock) Schedule(at types.Timestamp, cb CallbackFunc) {
	c.mu.Lock()
	c.sequence++
	heap.Push(&c.heap, &types.ScheduledEvent{
		Due:      at,
		Sequence: c.sequence,
		Callback: cb,
	})
	c.mu.Unlock()
}

// ScheduleAfter queues cb to run delay after now().
func (c *SimClock) ScheduleAfter(delay types.Duration, cb CallbackFunc) {
	c.Schedule(c.Now().Add(delay), cb)
}

// AdvanceTo moves now forward to t, firing every due callback in
// (due-time, insertion-sequence) order. Returns ErrClockRewind if t is
// before the current time. Callback panics are caught, logged, and do
// not abort the loop.
func (c *SimClock) AdvanceTo(t types.Timestamp) error {
	c.mu.Lock()
	if t < c.now {
		c.mu.Unlock()
		return ErrClockRewind
	}
	c.now = t
	c.mu.Unlock()

	for {
		cb, ok := c.popDue()
		if !ok {
			return nil
		}
		c.invoke(cb)
	}
}

// AdvanceBy moves now forward by d; equivalent to AdvanceTo(now()+d).
func (c *SimClock) AdvanceBy(d types.Duration) error {
	return c.AdvanceTo(c.Now().Add(d))
}

// Reset clears all scheduled events and sets now to t.
func (c *SimClock) Reset(t types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
	c.heap = nil
	c.sequence = 0
}

// popDue pops and returns the earliest event if it is due (<= now),
// releasing the lock before returning so the caller invokes the
// callback outside the heap's critical section.
func (c *SimClock) popDue() (CallbackFunc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.heap) == 0 || c.heap[0].Due > c.now {
		return nil, false
	}
	ev := heap.Pop(&c.heap).(*types.ScheduledEvent)
	return ev.Callback, true
}

func (c *SimClock) invoke(cb CallbackFunc) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scheduled callback panicked", "recover", r)
		}
	}()
	cb(c.Now())
}
