// Package ir decodes the NEC pulse-distance protocol from a stream of edge
// events. The decoder is pure: it consumes a capture ring and a tick value,
// does no I/O, and recovers from malformed input by resetting to idle.
//
// A 38kHz demodulating receiver idles high and pulls the line low while
// carrier is present, so a falling edge starts a mark and a rising edge ends
// it. Timing (mark/space in microseconds): header 9000/4500, bit 562/562 for
// a zero, 562/1687 for a one, 32 data bits LSB-first (addr, ~addr, cmd, ~cmd)
// and a 562 stop mark. A held button sends repeat frames instead of data:
// header mark, 2250 space, stop mark.
package ir

import (
	"fmt"
	"time"

	"github.com/sweeney/ir-turret/internal/capture"
	"github.com/sweeney/ir-turret/internal/hwclock"
)

// Button codes for the 21-key remote shipped with the turret.
const (
	ButtonUp    uint8 = 0x52
	ButtonDown  uint8 = 0x18
	ButtonLeft  uint8 = 0x08
	ButtonRight uint8 = 0x5A
	ButtonOK    uint8 = 0x1C
	ButtonStar  uint8 = 0x16
	ButtonHash  uint8 = 0x0D

	Button1 uint8 = 0x45
	Button2 uint8 = 0x46
	Button3 uint8 = 0x47
	Button4 uint8 = 0x44
	Button5 uint8 = 0x40
	Button6 uint8 = 0x43
	Button7 uint8 = 0x07
	Button8 uint8 = 0x15
	Button9 uint8 = 0x09
	Button0 uint8 = 0x19
)

// ButtonName returns a readable name for a button code, for logs and
// telemetry. Unknown codes render as hex.
func ButtonName(code uint8) string {
	switch code {
	case ButtonUp:
		return "up"
	case ButtonDown:
		return "down"
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonOK:
		return "ok"
	case ButtonStar:
		return "star"
	case ButtonHash:
		return "hash"
	case Button0:
		return "0"
	case Button1:
		return "1"
	case Button2:
		return "2"
	case Button3:
		return "3"
	case Button4:
		return "4"
	case Button5:
		return "5"
	case Button6:
		return "6"
	case Button7:
		return "7"
	case Button8:
		return "8"
	case Button9:
		return "9"
	}
	return fmt.Sprintf("0x%02x", code)
}

// Command is one decoded remote press. Repeat marks a held-button repeat
// frame re-emitting the previous command.
type Command struct {
	Addr   uint8
	Button uint8
	Repeat bool
}

// Protocol timing, in ticks (one tick per microsecond).
const (
	headerMark  = 9000
	headerSpace = 4500
	repeatSpace = 2250
	bitMark     = 562
	zeroSpace   = 562
	oneSpace    = 1687
)

// frameTimeout bounds how long an in-progress frame may stall with no edges
// before the decoder resets. The longest legal segment is the header mark
// plus tolerance.
const frameTimeout = 15 * time.Millisecond

// repeatWindow is how long after a command a repeat frame still extends it.
// NEC remotes send repeats every 110ms; anything much older is a stray.
const repeatWindow = 250 * time.Millisecond

type state uint8

const (
	stateIdle state = iota
	stateHeaderSpace
	stateCollecting
	stateTrailer
	stateRepeatTrailer
)

// Decoder reconstructs mark/space widths from the capture ring and drives the
// frame state machine. Not safe for concurrent use; Poll is called from the
// main loop only.
type Decoder struct {
	events *capture.Ring

	state    state
	bits     uint32
	bitCount int

	lastEdgeAt hwclock.Ticks
	haveEdge   bool

	lastCmd   Command
	lastCmdAt hwclock.Ticks
	haveLast  bool
}

// New creates a decoder draining the given edge ring.
func New(events *capture.Ring) *Decoder {
	return &Decoder{events: events}
}

// Poll drains available edge events and advances the frame state machine as
// far as they allow. It returns the first completed command, leaving any
// further queued edges for the next call. Non-blocking.
func (d *Decoder) Poll(now hwclock.Ticks) (Command, bool) {
	if d.state != stateIdle && d.haveEdge &&
		hwclock.Elapsed(now, d.lastEdgeAt) > frameTimeout {
		d.reset()
	}

	for {
		ev, ok := d.events.TryPop()
		if !ok {
			return Command{}, false
		}
		if cmd, ok := d.feed(ev); ok {
			return cmd, true
		}
	}
}

// feed processes one edge. The receiver is active-low, so a falling edge ends
// a space and a rising edge ends a mark.
func (d *Decoder) feed(ev capture.Event) (Command, bool) {
	if !d.haveEdge {
		d.lastEdgeAt = ev.At
		d.haveEdge = true
		return Command{}, false
	}

	width := hwclock.Sub(ev.At, d.lastEdgeAt)
	d.lastEdgeAt = ev.At

	if ev.Edge == capture.Rising {
		return d.markEnded(width, ev.At)
	}
	d.spaceEnded(width)
	return Command{}, false
}

func (d *Decoder) markEnded(width, at hwclock.Ticks) (Command, bool) {
	switch d.state {
	case stateIdle:
		if within(width, headerMark) {
			d.state = stateHeaderSpace
		}
		// Anything else in idle is noise; stay idle.

	case stateCollecting:
		if !within(width, bitMark) {
			d.reset()
		}
		// The bit value comes from the following space.

	case stateTrailer:
		if !within(width, bitMark) {
			d.reset()
			return Command{}, false
		}
		cmd, ok := d.finishFrame(at)
		d.reset()
		return cmd, ok

	case stateRepeatTrailer:
		if !within(width, bitMark) {
			d.reset()
			return Command{}, false
		}
		d.reset()
		if d.haveLast && hwclock.Elapsed(at, d.lastCmdAt) <= repeatWindow {
			d.lastCmdAt = at
			rpt := d.lastCmd
			rpt.Repeat = true
			return rpt, true
		}
		// Repeat with nothing to repeat: drop it.

	default:
		// A mark where a space belongs means we missed an edge.
		d.reset()
	}
	return Command{}, false
}

func (d *Decoder) spaceEnded(width hwclock.Ticks) {
	switch d.state {
	case stateIdle:
		// Idle gaps between frames end here; nothing to do.

	case stateHeaderSpace:
		switch {
		case within(width, headerSpace):
			d.state = stateCollecting
			d.bits = 0
			d.bitCount = 0
		case within(width, repeatSpace):
			d.state = stateRepeatTrailer
		default:
			d.reset()
		}

	case stateCollecting:
		switch {
		case within(width, zeroSpace):
			d.bitCount++
		case within(width, oneSpace):
			d.bits |= 1 << d.bitCount
			d.bitCount++
		default:
			d.reset()
			return
		}
		if d.bitCount == 32 {
			d.state = stateTrailer
		}

	default:
		d.reset()
	}
}

// finishFrame validates the 32 accumulated bits and builds the command.
// The command byte must match its complement; the address byte is passed
// through as-is so extended-NEC remotes still work.
func (d *Decoder) finishFrame(at hwclock.Ticks) (Command, bool) {
	cmd := uint8(d.bits >> 16)
	cmdInv := uint8(d.bits >> 24)
	if cmd^cmdInv != 0xFF {
		return Command{}, false
	}

	c := Command{
		Addr:   uint8(d.bits),
		Button: cmd,
	}
	d.lastCmd = c
	d.lastCmdAt = at
	d.haveLast = true
	return c, true
}

func (d *Decoder) reset() {
	d.state = stateIdle
	d.bits = 0
	d.bitCount = 0
}

// within reports whether a measured width falls inside the ±25% tolerance
// band around the nominal tick count.
func within(width hwclock.Ticks, nominal uint32) bool {
	lo := nominal - nominal/4
	hi := nominal + nominal/4
	return uint32(width) >= lo && uint32(width) <= hi
}
