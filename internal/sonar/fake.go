package sonar

// FakeTrigger is a test double that counts trigger pulses.
type FakeTrigger struct {
	// Pulses is the number of times Pulse was called.
	Pulses int

	// Err, if set, is returned by Pulse.
	Err error
}

// Pulse records the call.
func (f *FakeTrigger) Pulse() error {
	if f.Err != nil {
		return f.Err
	}
	f.Pulses++
	return nil
}
