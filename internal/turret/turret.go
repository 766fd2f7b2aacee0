// Package turret holds the controller state machine that turns decoded
// remote commands and range samples into servo targets. All transitions
// happen from the main loop; the controller never blocks and keeps time by
// comparing hardware counter values.
package turret

import (
	"time"

	"github.com/sweeney/ir-turret/internal/hwclock"
	"github.com/sweeney/ir-turret/internal/ir"
	"github.com/sweeney/ir-turret/internal/servo"
	"github.com/sweeney/ir-turret/internal/sonar"
)

// State is the controller's state machine variable.
type State int

const (
	Idle State = iota
	Aiming
	Firing
	RangeGuard
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Aiming:
		return "aiming"
	case Firing:
		return "firing"
	case RangeGuard:
		return "range-guard"
	}
	return "unknown"
}

// GuardPolicy selects what the range guard is allowed to block.
type GuardPolicy int

const (
	// GuardOff disables the range guard entirely.
	GuardOff GuardPolicy = iota
	// GuardAim blocks aiming while an obstruction is close, but lets a
	// firing dwell run to completion.
	GuardAim
	// GuardAll additionally aborts an in-progress dwell when an
	// obstruction appears.
	GuardAll
)

func (p GuardPolicy) String() string {
	switch p {
	case GuardOff:
		return "off"
	case GuardAim:
		return "aim"
	case GuardAll:
		return "all"
	}
	return "unknown"
}

// ParseGuardPolicy converts a config string into a GuardPolicy.
func ParseGuardPolicy(s string) (GuardPolicy, bool) {
	switch s {
	case "off":
		return GuardOff, true
	case "aim":
		return GuardAim, true
	case "all":
		return GuardAll, true
	}
	return GuardOff, false
}

// Config tunes the controller. Angles are degrees, distances metres.
type Config struct {
	PanStep  int
	TiltStep int

	FireAngle   int
	RestAngle   int
	FireDwell   time.Duration
	BurstRounds int

	// RepeatWindow is how long after the last directional command the
	// controller stays in Aiming before settling back to Idle.
	RepeatWindow time.Duration

	GuardPolicy   GuardPolicy
	GuardDistance sonar.Distance
}

// DefaultConfig returns the stock tuning for the shipped hardware.
func DefaultConfig() Config {
	return Config{
		PanStep:       8,
		TiltStep:      8,
		FireAngle:     0,
		RestAngle:     90,
		FireDwell:     158 * time.Millisecond,
		BurstRounds:   6,
		RepeatWindow:  250 * time.Millisecond,
		GuardPolicy:   GuardAll,
		GuardDistance: 0.30,
	}
}

// Transition reports a state change for logging and telemetry.
type Transition struct {
	From   State
	To     State
	Reason string
}

// Controller drives the servo actuator from decoded commands and range
// samples. Not safe for concurrent use; the main loop owns it.
type Controller struct {
	cfg Config
	act *servo.Actuator

	state      State
	lastAimAt  hwclock.Ticks
	fireStart  hwclock.Ticks
	fireDwell  hwclock.Ticks
	obstructed bool
}

// New creates a Controller in Idle with the trigger servo at rest.
func New(act *servo.Actuator, cfg Config) *Controller {
	act.SetTarget(servo.Trigger, cfg.RestAngle)
	return &Controller{cfg: cfg, act: act}
}

// State returns the current state machine variant.
func (c *Controller) State() State { return c.state }

// Obstructed reports whether the last valid range sample was inside the
// guard distance.
func (c *Controller) Obstructed() bool { return c.obstructed }

// HandleCommand feeds one decoded remote command into the state machine.
// The returned transition, if any, describes the resulting state change.
func (c *Controller) HandleCommand(cmd ir.Command, now hwclock.Ticks) (Transition, bool) {
	// A dwell in progress is uninterruptible; rapid re-trigger would
	// damage the flywheel gearing.
	if c.state == Firing {
		return Transition{}, false
	}

	switch cmd.Button {
	case ir.ButtonUp:
		return c.aim(servo.Tilt, -c.cfg.TiltStep, now)
	case ir.ButtonDown:
		return c.aim(servo.Tilt, c.cfg.TiltStep, now)
	case ir.ButtonLeft:
		return c.aim(servo.Pan, -c.cfg.PanStep, now)
	case ir.ButtonRight:
		return c.aim(servo.Pan, c.cfg.PanStep, now)
	case ir.ButtonOK:
		// A held button streams repeats; fire once per press.
		if cmd.Repeat {
			return Transition{}, false
		}
		return c.fire(c.cfg.FireDwell, "fire", now)
	case ir.ButtonStar:
		if cmd.Repeat {
			return Transition{}, false
		}
		return c.fire(time.Duration(c.cfg.BurstRounds)*c.cfg.FireDwell, "burst", now)
	}
	return Transition{}, false
}

func (c *Controller) aim(ch servo.Channel, step int, now hwclock.Ticks) (Transition, bool) {
	if c.state == RangeGuard {
		return Transition{}, false
	}
	c.act.SetTarget(ch, c.act.Target(ch)+step)
	c.lastAimAt = now
	if c.state != Aiming {
		from := c.state
		c.state = Aiming
		return Transition{From: from, To: Aiming, Reason: "aim"}, true
	}
	return Transition{}, false
}

func (c *Controller) fire(dwell time.Duration, reason string, now hwclock.Ticks) (Transition, bool) {
	if c.state == RangeGuard && c.cfg.GuardPolicy == GuardAll {
		return Transition{}, false
	}
	c.act.SetTarget(servo.Trigger, c.cfg.FireAngle)
	from := c.state
	c.state = Firing
	c.fireStart = now
	c.fireDwell = hwclock.FromDuration(dwell)
	return Transition{From: from, To: Firing, Reason: reason}, true
}

// HandleRange feeds one range sample into the state machine. Invalid
// samples are recorded nowhere and never move the guard in either
// direction; only a valid reading can set or clear it.
func (c *Controller) HandleRange(s sonar.Sample, now hwclock.Ticks) (Transition, bool) {
	if c.cfg.GuardPolicy == GuardOff || !s.Valid {
		return Transition{}, false
	}

	if s.Distance < c.cfg.GuardDistance {
		c.obstructed = true
		switch c.state {
		case Idle, Aiming:
			from := c.state
			c.state = RangeGuard
			return Transition{From: from, To: RangeGuard, Reason: "guard-entered"}, true
		case Firing:
			if c.cfg.GuardPolicy == GuardAll {
				c.act.SetTarget(servo.Trigger, c.cfg.RestAngle)
				c.state = RangeGuard
				return Transition{From: Firing, To: RangeGuard, Reason: "guard-abort"}, true
			}
		}
		return Transition{}, false
	}

	c.obstructed = false
	if c.state == RangeGuard {
		c.state = Idle
		return Transition{From: RangeGuard, To: Idle, Reason: "guard-cleared"}, true
	}
	return Transition{}, false
}

// Tick advances time-based transitions: dwell completion and the repeat
// window expiring. Called once per main-loop iteration.
func (c *Controller) Tick(now hwclock.Ticks) (Transition, bool) {
	switch c.state {
	case Firing:
		if hwclock.Sub(now, c.fireStart) >= c.fireDwell {
			c.act.SetTarget(servo.Trigger, c.cfg.RestAngle)
			to := Idle
			if c.obstructed {
				to = RangeGuard
			}
			c.state = to
			return Transition{From: Firing, To: to, Reason: "dwell-elapsed"}, true
		}
	case Aiming:
		if hwclock.Elapsed(now, c.lastAimAt) > c.cfg.RepeatWindow {
			c.state = Idle
			return Transition{From: Aiming, To: Idle, Reason: "repeat-timeout"}, true
		}
	}
	return Transition{}, false
}
