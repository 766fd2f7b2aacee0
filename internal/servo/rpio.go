//go:build linux

package servo

import (
	"fmt"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// Hardware PWM at 50Hz with 2000 duty steps gives 10µs pulse resolution
// over the 20ms period.
const (
	pwmHz     = 50
	dutySteps = 2000
	dutyUnit  = 10 * time.Microsecond
)

// RPIODriver drives servos from the Pi's hardware PWM via /dev/gpiomem.
type RPIODriver struct {
	pins [NumChannels]rpio.Pin
}

// NewRPIODriver maps channels onto BCM pin numbers and configures each for
// hardware PWM. The pins must be PWM-capable.
func NewRPIODriver(pins [NumChannels]int) (*RPIODriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("opening gpio memory: %w", err)
	}
	d := &RPIODriver{}
	for ch, n := range pins {
		pin := rpio.Pin(n)
		pin.Mode(rpio.Pwm)
		pin.Freq(pwmHz * dutySteps)
		d.pins[ch] = pin
	}
	return d, nil
}

// SetPulse programs the channel's duty cycle for the given pulse width,
// rounded to the 10µs hardware step.
func (d *RPIODriver) SetPulse(ch Channel, width time.Duration) error {
	duty := uint32(width / dutyUnit)
	if duty > dutySteps {
		duty = dutySteps
	}
	d.pins[ch].DutyCycle(duty, dutySteps)
	return nil
}

// Close stops the PWM outputs and releases the GPIO mapping.
func (d *RPIODriver) Close() error {
	for _, pin := range d.pins {
		pin.DutyCycle(0, dutySteps)
	}
	return rpio.Close()
}
