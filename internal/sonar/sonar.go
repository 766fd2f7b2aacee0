// Package sonar measures distance with an HC-SR04 ultrasonic rangefinder.
// The trigger pin is pulsed high for 10µs; the sensor answers with a high
// pulse on the echo pin whose width is the round-trip time of flight. Echo
// edges arrive through a capture ring; the cycle state machine and the
// distance arithmetic run in the main loop.
package sonar

import (
	"fmt"
	"time"

	"github.com/sweeney/ir-turret/internal/capture"
	"github.com/sweeney/ir-turret/internal/hwclock"
)

// Distance is a physical length in metres. Carrying the unit in the type
// keeps centimetre/metre confusion out of the call sites.
type Distance float64

// Meters returns the distance in metres.
func (d Distance) Meters() float64 { return float64(d) }

// Centimeters returns the distance in centimetres.
func (d Distance) Centimeters() float64 { return float64(d) * 100 }

// String formats the distance in centimetres.
func (d Distance) String() string {
	return fmt.Sprintf("%.1fcm", d.Centimeters())
}

// Sample is the result of one measurement cycle. Valid is false when no echo
// arrived inside the timeout, when the echo was longer than the sensor's
// maximum range equivalent, or when it was too short to be a real reflection.
type Sample struct {
	Distance Distance
	Valid    bool
}

// Trigger drives the sensor's trigger pin for one measurement.
type Trigger interface {
	// Pulse emits the 10µs trigger pulse.
	Pulse() error
}

const (
	// maxRange is the sensor's rated maximum, which bounds the legal echo
	// width and the cycle timeout.
	maxRange = 4.0 // metres

	// minEchoWidth rejects reflections too short to be real; the sensor's
	// minimum range is about 2cm.
	minEchoWidth = 100 * time.Microsecond

	// minInterval rate-limits triggering so one cycle's stray reflections
	// cannot be mistaken for the next cycle's echo.
	minInterval = 60 * time.Millisecond

	// cycleSlack covers the sensor's internal delay between the trigger
	// pulse and the start of the echo pulse.
	cycleSlack = 15 * time.Millisecond
)

// SpeedOfSound returns the speed of sound in m/s at the given ambient
// temperature in °C.
func SpeedOfSound(tempC float64) float64 {
	return 331.0 + 0.606*tempC
}

type state uint8

const (
	stateIdle state = iota
	stateAwaitRising
	stateAwaitFalling
)

// Rangefinder runs measurement cycles. Not safe for concurrent use; both
// TriggerMeasurement and Poll are main-loop calls.
type Rangefinder struct {
	trig Trigger
	echo *capture.Ring

	speed        float64       // m/s
	maxEcho      hwclock.Ticks // longest legal echo width
	cycleTimeout hwclock.Ticks // trigger to falling edge, worst case

	state       state
	triggeredAt hwclock.Ticks
	echoStart   hwclock.Ticks

	lastCycle hwclock.Ticks
	haveCycle bool

	pending     Sample
	havePending bool
}

// New creates a Rangefinder using the given trigger driver and echo edge
// ring, compensated for the ambient temperature.
func New(trig Trigger, echo *capture.Ring, tempC float64) *Rangefinder {
	speed := SpeedOfSound(tempC)
	maxEcho := hwclock.FromDuration(
		time.Duration(2 * maxRange / speed * float64(time.Second)))
	return &Rangefinder{
		trig:         trig,
		echo:         echo,
		speed:        speed,
		maxEcho:      maxEcho,
		cycleTimeout: maxEcho + hwclock.FromDuration(cycleSlack),
	}
}

// TriggerMeasurement starts one measurement cycle. It reports false without
// error when a cycle is already in flight or the previous cycle finished too
// recently; a trigger pin failure is returned as an error.
func (r *Rangefinder) TriggerMeasurement(now hwclock.Ticks) (bool, error) {
	if r.state != stateIdle {
		return false, nil
	}
	if r.haveCycle && hwclock.Elapsed(now, r.lastCycle) < minInterval {
		return false, nil
	}

	// Edges left over from the previous cycle are noise to this one.
	for {
		if _, ok := r.echo.TryPop(); !ok {
			break
		}
	}

	if err := r.trig.Pulse(); err != nil {
		return false, fmt.Errorf("trigger pulse: %w", err)
	}

	r.state = stateAwaitRising
	r.triggeredAt = now
	r.lastCycle = now
	r.haveCycle = true
	return true, nil
}

// Poll advances an in-flight cycle with any captured echo edges and returns
// the completed sample, clearing it. Non-blocking; a missing echo resolves as
// an invalid sample when the timeout expires, never a hang.
func (r *Rangefinder) Poll(now hwclock.Ticks) (Sample, bool) {
	for r.state != stateIdle {
		ev, ok := r.echo.TryPop()
		if !ok {
			break
		}
		switch {
		case r.state == stateAwaitRising && ev.Edge == capture.Rising:
			r.echoStart = ev.At
			r.state = stateAwaitFalling
		case r.state == stateAwaitFalling && ev.Edge == capture.Falling:
			r.finish(hwclock.Sub(ev.At, r.echoStart))
		default:
			// Opposite-direction edge: electrical noise, ignore.
		}
	}

	if r.state != stateIdle &&
		hwclock.Sub(now, r.triggeredAt) > r.cycleTimeout {
		r.pending = Sample{}
		r.havePending = true
		r.state = stateIdle
	}

	if !r.havePending {
		return Sample{}, false
	}
	s := r.pending
	r.havePending = false
	return s, true
}

// InFlight reports whether a measurement cycle is in progress.
func (r *Rangefinder) InFlight() bool {
	return r.state != stateIdle
}

// finish converts a completed echo width into a sample.
func (r *Rangefinder) finish(width hwclock.Ticks) {
	r.state = stateIdle
	if width < hwclock.FromDuration(minEchoWidth) || width > r.maxEcho {
		r.pending = Sample{}
		r.havePending = true
		return
	}
	seconds := width.Duration().Seconds()
	r.pending = Sample{
		Distance: Distance(r.speed * seconds / 2),
		Valid:    true,
	}
	r.havePending = true
}
