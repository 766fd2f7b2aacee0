//go:build linux

package capture

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/ir-turret/internal/hwclock"
)

// Monitor attaches to one GPIO line with both-edge detection and pushes each
// transition onto a Ring. The kernel stamps events with the monotonic clock at
// interrupt time, so timestamps are unaffected by scheduling delay between the
// edge and the handler running. Kernel timestamps count from boot; the first
// event fixes a constant offset that rebases them onto the daemon's tick
// clock, so pushed events compare directly against Source.Now().
type Monitor struct {
	line  *gpiocdev.Line
	ring  *Ring
	clock hwclock.Source

	// Touched only by the gpiocdev event goroutine.
	offset     hwclock.Ticks
	haveOffset bool
}

// NewMonitor requests pin on the named chip (e.g. "gpiochip0") and starts
// capturing edges into a ring of the given capacity.
func NewMonitor(chip string, pin int, bias Bias, capacity int, clock hwclock.Source) (*Monitor, error) {
	m := &Monitor{ring: NewRing(capacity), clock: clock}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(m.handleEvent),
	}
	switch bias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}

	line, err := gpiocdev.RequestLine(chip, pin, opts...)
	if err != nil {
		return nil, fmt.Errorf("request edge line %d: %w", pin, err)
	}
	m.line = line
	return m, nil
}

// handleEvent runs on the gpiocdev event goroutine. It must stay short and
// non-blocking: convert the timestamp, push, return.
func (m *Monitor) handleEvent(evt gpiocdev.LineEvent) {
	edge := Falling
	if evt.Type == gpiocdev.LineEventRisingEdge {
		edge = Rising
	}
	at := hwclock.FromDuration(evt.Timestamp.Truncate(time.Microsecond))
	if !m.haveOffset {
		// Wrapping arithmetic keeps the offset exact across counter wrap.
		m.offset = m.clock.Now() - at
		m.haveOffset = true
	}
	m.ring.Push(Event{At: at + m.offset, Edge: edge})
}

// Ring returns the queue this monitor pushes into.
func (m *Monitor) Ring() *Ring {
	return m.ring
}

// Close releases the GPIO line.
func (m *Monitor) Close() error {
	if m.line == nil {
		return nil
	}
	if err := m.line.Close(); err != nil {
		return fmt.Errorf("close edge line: %w", err)
	}
	return nil
}
