//go:build !linux

package servo

import (
	"errors"
	"time"
)

// RPIODriver is only available on linux; this stub lets the rest of the
// project build elsewhere.
type RPIODriver struct{}

func NewRPIODriver(pins [NumChannels]int) (*RPIODriver, error) {
	return nil, errors.New("rpio pwm requires linux")
}

func (d *RPIODriver) SetPulse(ch Channel, width time.Duration) error {
	return errors.New("rpio pwm requires linux")
}

func (d *RPIODriver) Close() error { return nil }
