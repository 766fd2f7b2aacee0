//go:build !linux

package sonar

import "errors"

// TriggerLine is not available on non-Linux platforms.
type TriggerLine struct{}

// NewTriggerLine returns an error on non-Linux platforms.
func NewTriggerLine(chip string, pin int) (*TriggerLine, error) {
	return nil, errors.New("sonar: not supported on this platform (requires Linux)")
}

// Pulse is not implemented on non-Linux platforms.
func (t *TriggerLine) Pulse() error {
	return errors.New("sonar: not supported")
}

// Close is not implemented on non-Linux platforms.
func (t *TriggerLine) Close() error {
	return nil
}
