package hwclock

import (
	"sync/atomic"
	"time"
)

// Fake is a settable Source for tests. The counter only moves when the test
// advances it, so timing-sensitive logic can be stepped deterministically.
type Fake struct {
	now atomic.Uint32
}

// NewFake creates a Fake starting at the given tick value.
func NewFake(start Ticks) *Fake {
	f := &Fake{}
	f.now.Store(uint32(start))
	return f
}

// Now returns the current fake counter value.
func (f *Fake) Now() Ticks {
	return Ticks(f.now.Load())
}

// Advance moves the counter forward by d, wrapping like the real counter.
func (f *Fake) Advance(d time.Duration) Ticks {
	return Ticks(f.now.Add(uint32(FromDuration(d))))
}

// AdvanceTicks moves the counter forward by n ticks.
func (f *Fake) AdvanceTicks(n Ticks) Ticks {
	return Ticks(f.now.Add(uint32(n)))
}

// Set jumps the counter to an absolute value.
func (f *Fake) Set(t Ticks) {
	f.now.Store(uint32(t))
}
