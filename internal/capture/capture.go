// Package capture records timestamped GPIO edge transitions into a bounded
// queue. The real implementation uses Linux GPIO character device edge events;
// tests push edges into the queue directly.
//
// One Ring exists per monitored line (IR receiver, ultrasonic echo). The edge
// event handler is the only producer and the main loop is the only consumer.
package capture

import (
	"sync"

	"github.com/sweeney/ir-turret/internal/hwclock"
)

// Bias selects the input bias for a monitored line.
type Bias int

const (
	BiasNone Bias = iota
	BiasPullUp
	BiasPullDown
)

// Edge is the direction of a GPIO transition.
type Edge uint8

const (
	Rising Edge = iota
	Falling
)

// String returns "rising" or "falling".
func (e Edge) String() string {
	if e == Rising {
		return "rising"
	}
	return "falling"
}

// Event is one edge transition on a monitored line.
type Event struct {
	At   hwclock.Ticks
	Edge Edge
}

// Ring is a fixed-capacity FIFO of edge events. When full, Push overwrites
// the oldest event: memory and producer latency stay bounded, and recency
// wins — a stale edge is useless to a remote protocol anyway. Push never
// blocks and allocates nothing after construction.
type Ring struct {
	mu      sync.Mutex
	buf     []Event
	head    int // next write position
	count   int
	dropped uint64
}

// NewRing creates a Ring holding up to capacity events.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]Event, capacity)}
}

// Push appends an event, overwriting the oldest if the ring is full.
func (r *Ring) Push(ev Event) {
	r.mu.Lock()
	if r.count == len(r.buf) {
		// Overwrite oldest: head is already pointing at it.
		r.dropped++
		r.buf[r.head] = ev
		r.head = (r.head + 1) % len(r.buf)
		r.mu.Unlock()
		return
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	r.count++
	r.mu.Unlock()
}

// TryPop removes and returns the oldest event, if any.
func (r *Ring) TryPop() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return Event{}, false
	}
	// Oldest item is at (head - count) mod capacity.
	idx := (r.head - r.count + len(r.buf)) % len(r.buf)
	ev := r.buf[idx]
	r.count--
	return ev, true
}

// Len returns the number of queued events.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Dropped returns how many events have been overwritten since construction.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
