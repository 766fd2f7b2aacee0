//go:build !linux

package capture

import (
	"errors"

	"github.com/sweeney/ir-turret/internal/hwclock"
)

// Monitor is not available on non-Linux platforms.
type Monitor struct{}

// NewMonitor returns an error on non-Linux platforms.
func NewMonitor(chip string, pin int, bias Bias, capacity int, clock hwclock.Source) (*Monitor, error) {
	return nil, errors.New("capture: not supported on this platform (requires Linux)")
}

// Ring is not implemented on non-Linux platforms.
func (m *Monitor) Ring() *Ring {
	return nil
}

// Close is not implemented on non-Linux platforms.
func (m *Monitor) Close() error {
	return nil
}
