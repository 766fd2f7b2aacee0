package servo

import (
	"sync"
	"time"
)

// FakeDriver records pulse writes for tests.
type FakeDriver struct {
	mu     sync.Mutex
	widths [NumChannels][]time.Duration

	// Err, when set, is returned by every SetPulse call.
	Err error
}

func (d *FakeDriver) SetPulse(ch Channel, width time.Duration) error {
	if d.Err != nil {
		return d.Err
	}
	d.mu.Lock()
	d.widths[ch] = append(d.widths[ch], width)
	d.mu.Unlock()
	return nil
}

// Last returns the most recent width written to the channel, or zero if the
// channel has never been written.
func (d *FakeDriver) Last(ch Channel) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.widths[ch]) == 0 {
		return 0
	}
	return d.widths[ch][len(d.widths[ch])-1]
}

// Writes returns how many times the channel has been written.
func (d *FakeDriver) Writes(ch Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.widths[ch])
}
