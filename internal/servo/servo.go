// Package servo generates the pulse schedule for the pan, tilt and trigger
// servos. Targets are set in degrees from the main loop; a refresh pass runs
// once per PWM period and recomputes each channel's pulse width from its
// target, so width changes only ever land on a period boundary.
//
// The target is an atomic written only by SetTarget (main loop) and the pulse
// width is written only by the refresh pass: the two writers touch disjoint
// fields, so no lock is needed.
package servo

import (
	"context"
	"sync/atomic"
	"time"
)

// Channel identifies one actuated joint.
type Channel int

const (
	Pan Channel = iota
	Tilt
	Trigger
	NumChannels
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case Pan:
		return "pan"
	case Tilt:
		return "tilt"
	case Trigger:
		return "trigger"
	}
	return "unknown"
}

// Standard hobby-servo calibration: a pulse between 544µs and 2400µs once
// every 20ms maps linearly onto 0..180 degrees.
const (
	RefreshInterval = 20 * time.Millisecond
	MinPulse        = 544 * time.Microsecond
	MaxPulse        = 2400 * time.Microsecond
)

// ChannelConfig holds one channel's mechanical limits and initial position,
// in degrees.
type ChannelConfig struct {
	MinAngle int
	MaxAngle int
	Initial  int
}

// Driver emits a pulse width on a servo output. Implementations must tolerate
// being called once per channel per refresh period.
type Driver interface {
	SetPulse(ch Channel, width time.Duration) error
}

type channel struct {
	cfg    ChannelConfig
	target atomic.Int32 // degrees; written by the main loop only
	width  atomic.Int64 // pulse width in ns; written by Refresh only
}

// Actuator owns the servo channels and their pulse schedule.
type Actuator struct {
	driver Driver
	ch     [NumChannels]channel
	faults atomic.Uint64
}

// New creates an Actuator with each channel at its configured initial angle.
// The first Refresh pushes the initial pulse widths to the driver.
func New(driver Driver, cfgs [NumChannels]ChannelConfig) *Actuator {
	a := &Actuator{driver: driver}
	for i := range a.ch {
		a.ch[i].cfg = cfgs[i]
		a.ch[i].target.Store(int32(clamp(cfgs[i].Initial, cfgs[i].MinAngle, cfgs[i].MaxAngle)))
	}
	return a
}

// SetTarget clamps deg to the channel's mechanical limits, stores it as the
// new target, and returns the stored value. Safe to call concurrently with
// Refresh; the change takes effect at the next period boundary.
func (a *Actuator) SetTarget(ch Channel, deg int) int {
	c := &a.ch[ch]
	deg = clamp(deg, c.cfg.MinAngle, c.cfg.MaxAngle)
	c.target.Store(int32(deg))
	return deg
}

// Target returns the channel's current target angle in degrees.
func (a *Actuator) Target(ch Channel) int {
	return int(a.ch[ch].target.Load())
}

// Pulse returns the width last emitted for the channel; zero before the
// first refresh.
func (a *Actuator) Pulse(ch Channel) time.Duration {
	return time.Duration(a.ch[ch].width.Load())
}

// Faults returns how many driver writes have failed. Pulse failures are
// transient: the next period retries from the current target.
func (a *Actuator) Faults() uint64 {
	return a.faults.Load()
}

// Refresh recomputes each channel's pulse width from its target and pushes
// changed widths to the driver. Called once per PWM period.
func (a *Actuator) Refresh() {
	for i := range a.ch {
		c := &a.ch[i]
		width := PulseWidth(int(c.target.Load()))
		if time.Duration(c.width.Load()) == width {
			continue
		}
		if err := a.driver.SetPulse(Channel(i), width); err != nil {
			a.faults.Add(1)
			continue
		}
		c.width.Store(int64(width))
	}
}

// Run refreshes the pulse schedule every RefreshInterval until ctx is done.
func (a *Actuator) Run(ctx context.Context) {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	a.Refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Refresh()
		}
	}
}

// PulseWidth maps an angle in degrees onto the calibrated pulse range.
func PulseWidth(deg int) time.Duration {
	deg = clamp(deg, 0, 180)
	return MinPulse + (MaxPulse-MinPulse)*time.Duration(deg)/180
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
