package ir

import (
	"testing"
	"time"

	"github.com/sweeney/ir-turret/internal/capture"
	"github.com/sweeney/ir-turret/internal/hwclock"
)

// pulse is one mark/space pair in microseconds.
type pulse struct {
	mark  uint32
	space uint32
}

// inject pushes the edge events for a pulse train onto the ring, starting at
// start, and returns the tick just after the final space. The receiver is
// active-low: falling opens a mark, rising closes it.
func inject(r *capture.Ring, start hwclock.Ticks, pulses []pulse) hwclock.Ticks {
	t := start
	for _, p := range pulses {
		r.Push(capture.Event{At: t, Edge: capture.Falling})
		t += hwclock.Ticks(p.mark)
		r.Push(capture.Event{At: t, Edge: capture.Rising})
		t += hwclock.Ticks(p.space)
	}
	return t
}

// necFrame builds the pulse train for a full NEC data frame.
func necFrame(addr, cmd uint8) []pulse {
	bits := uint32(addr) |
		uint32(^addr)<<8 |
		uint32(cmd)<<16 |
		uint32(^cmd)<<24

	pulses := []pulse{{9000, 4500}}
	for i := 0; i < 32; i++ {
		if bits>>i&1 == 1 {
			pulses = append(pulses, pulse{562, 1687})
		} else {
			pulses = append(pulses, pulse{562, 562})
		}
	}
	// Stop mark, then the line idles.
	return append(pulses, pulse{562, 40_000})
}

// repeatFrame builds the pulse train for an NEC repeat code.
func repeatFrame() []pulse {
	return []pulse{{9000, 2250}, {562, 96_000}}
}

func TestDecodeFullFrame(t *testing.T) {
	ring := capture.NewRing(128)
	d := New(ring)

	end := inject(ring, 1000, necFrame(0x00, ButtonRight))

	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("expected a decoded command")
	}
	if cmd.Button != ButtonRight {
		t.Errorf("button: got %#x, want %#x", cmd.Button, ButtonRight)
	}
	if cmd.Addr != 0x00 {
		t.Errorf("addr: got %#x, want 0", cmd.Addr)
	}
	if cmd.Repeat {
		t.Error("fresh frame should not be a repeat")
	}

	if _, ok := d.Poll(end); ok {
		t.Error("second poll should yield nothing")
	}
}

func TestDecodeAllButtons(t *testing.T) {
	buttons := []uint8{
		ButtonUp, ButtonDown, ButtonLeft, ButtonRight, ButtonOK,
		ButtonStar, ButtonHash, Button0, Button5, Button9,
	}
	ring := capture.NewRing(128)
	d := New(ring)
	at := hwclock.Ticks(0)
	for _, b := range buttons {
		at = inject(ring, at, necFrame(0x00, b))
		cmd, ok := d.Poll(at)
		if !ok {
			t.Fatalf("button %#x: no command decoded", b)
		}
		if cmd.Button != b {
			t.Errorf("got button %#x, want %#x", cmd.Button, b)
		}
	}
}

func TestDecodeWithTimingJitter(t *testing.T) {
	// Stretch every segment by 20%; still inside the ±25% tolerance band.
	frame := necFrame(0x00, ButtonOK)
	for i := range frame {
		frame[i].mark += frame[i].mark / 5
		frame[i].space += frame[i].space / 5
	}

	ring := capture.NewRing(128)
	d := New(ring)
	end := inject(ring, 0, frame)

	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("jittered frame should still decode")
	}
	if cmd.Button != ButtonOK {
		t.Errorf("got button %#x, want %#x", cmd.Button, ButtonOK)
	}
}

func TestOutOfBandPulseYieldsNothing(t *testing.T) {
	ring := capture.NewRing(16)
	d := New(ring)

	// A lone 3ms mark matches no band.
	end := inject(ring, 0, []pulse{{3000, 50_000}})
	if _, ok := d.Poll(end); ok {
		t.Fatal("out-of-band pulse must not decode")
	}

	// Decoder must be back in idle: a following valid frame decodes cleanly.
	end = inject(ring, end, necFrame(0x00, ButtonUp))
	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("valid frame after noise should decode")
	}
	if cmd.Button != ButtonUp {
		t.Errorf("got button %#x, want %#x", cmd.Button, ButtonUp)
	}
}

func TestRepeatReEmitsLastCommand(t *testing.T) {
	ring := capture.NewRing(128)
	d := New(ring)

	end := inject(ring, 0, necFrame(0x00, ButtonLeft))
	if _, ok := d.Poll(end); !ok {
		t.Fatal("expected initial command")
	}

	// NEC repeats arrive ~110ms after the frame started; well inside the window.
	end = inject(ring, end, repeatFrame())
	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("expected repeat command")
	}
	if !cmd.Repeat {
		t.Error("expected Repeat=true")
	}
	if cmd.Button != ButtonLeft {
		t.Errorf("repeat button: got %#x, want %#x", cmd.Button, ButtonLeft)
	}

	// A second repeat extends again.
	end = inject(ring, end, repeatFrame())
	cmd, ok = d.Poll(end)
	if !ok || !cmd.Repeat || cmd.Button != ButtonLeft {
		t.Errorf("second repeat: got %+v ok=%v", cmd, ok)
	}
}

func TestRepeatWithoutPriorCommand(t *testing.T) {
	ring := capture.NewRing(16)
	d := New(ring)

	end := inject(ring, 0, repeatFrame())
	if _, ok := d.Poll(end); ok {
		t.Error("repeat with no prior command must be dropped")
	}
}

func TestRepeatOutsideWindowDropped(t *testing.T) {
	ring := capture.NewRing(128)
	d := New(ring)

	end := inject(ring, 0, necFrame(0x00, ButtonDown))
	if _, ok := d.Poll(end); !ok {
		t.Fatal("expected initial command")
	}

	// Repeat arriving 400ms later is stale.
	late := end + hwclock.FromDuration(400*time.Millisecond)
	end = inject(ring, late, repeatFrame())
	if cmd, ok := d.Poll(end); ok {
		t.Errorf("stale repeat should be dropped, got %+v", cmd)
	}
}

func TestCorruptComplementRejected(t *testing.T) {
	// Flip one data bit so cmd and ~cmd no longer match.
	frame := necFrame(0x00, ButtonOK)
	// Bit 16 is the first command bit; swap its space width.
	if frame[1+16].space == 562 {
		frame[1+16].space = 1687
	} else {
		frame[1+16].space = 562
	}

	ring := capture.NewRing(128)
	d := New(ring)
	end := inject(ring, 0, frame)
	if cmd, ok := d.Poll(end); ok {
		t.Errorf("corrupt frame decoded as %+v", cmd)
	}
}

func TestStalledFrameTimesOut(t *testing.T) {
	ring := capture.NewRing(64)
	d := New(ring)

	// Header only, then the transmitter dies.
	end := inject(ring, 0, []pulse{{9000, 4500}})
	if _, ok := d.Poll(end); ok {
		t.Fatal("header alone should not decode")
	}

	// Much later, a fresh frame must decode despite the abandoned one.
	start := end + hwclock.FromDuration(100*time.Millisecond)
	end = inject(ring, start, necFrame(0x00, ButtonStar))
	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("frame after stall should decode")
	}
	if cmd.Button != ButtonStar {
		t.Errorf("got button %#x, want %#x", cmd.Button, ButtonStar)
	}
}

func TestTimestampWrapMidFrame(t *testing.T) {
	ring := capture.NewRing(128)
	d := New(ring)

	// Start the frame just before the counter wraps; widths must still be
	// computed correctly.
	var zero hwclock.Ticks
	start := zero - 30_000
	end := inject(ring, start, necFrame(0x00, Button7))

	cmd, ok := d.Poll(end)
	if !ok {
		t.Fatal("frame spanning a counter wrap should decode")
	}
	if cmd.Button != Button7 {
		t.Errorf("got button %#x, want %#x", cmd.Button, Button7)
	}
}
