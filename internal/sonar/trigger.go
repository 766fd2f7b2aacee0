//go:build linux

package sonar

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// TriggerLine drives the sensor's trigger pin through the Linux GPIO
// character device.
type TriggerLine struct {
	line *gpiocdev.Line
}

// NewTriggerLine requests pin on the named chip as an output, initially low.
func NewTriggerLine(chip string, pin int) (*TriggerLine, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("request trigger pin %d: %w", pin, err)
	}
	return &TriggerLine{line: line}, nil
}

// Pulse settles the pin low, holds it high for 10µs, and drops it again.
func (t *TriggerLine) Pulse() error {
	if err := t.line.SetValue(0); err != nil {
		return fmt.Errorf("trigger low: %w", err)
	}
	time.Sleep(4 * time.Microsecond)
	if err := t.line.SetValue(1); err != nil {
		return fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(10 * time.Microsecond)
	if err := t.line.SetValue(0); err != nil {
		return fmt.Errorf("trigger low: %w", err)
	}
	return nil
}

// Close drops the pin and releases the line.
func (t *TriggerLine) Close() error {
	if t.line == nil {
		return nil
	}
	t.line.SetValue(0)
	if err := t.line.Close(); err != nil {
		return fmt.Errorf("close trigger line: %w", err)
	}
	return nil
}
