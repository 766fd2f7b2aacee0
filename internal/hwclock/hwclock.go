// Package hwclock provides the tick timebase shared by the capture, decoder,
// rangefinder and controller packages. Ticks come from a free-running 1MHz
// counter and wrap at 2^32; all durations are computed as wrapped differences,
// so wraparound needs no special casing anywhere downstream.
package hwclock

import "time"

// Hz is the tick frequency: one tick per microsecond.
const Hz = 1_000_000

// Ticks is a value read from the free-running counter. It wraps roughly every
// 71 minutes at 1MHz; only differences between two Ticks are meaningful.
type Ticks uint32

// Sub returns later - earlier modulo 2^32. Unsigned arithmetic makes the
// result correct across a counter wrap without explicit wrap detection.
func Sub(later, earlier Ticks) Ticks {
	return later - earlier
}

// Elapsed converts the wrapped difference between two tick values into
// physical time.
func Elapsed(later, earlier Ticks) time.Duration {
	return Sub(later, earlier).Duration()
}

// Duration converts a tick count (a difference, not an absolute reading) into
// physical time.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * (time.Second / Hz)
}

// FromDuration converts a duration into the equivalent tick count.
func FromDuration(d time.Duration) Ticks {
	return Ticks(d / (time.Second / Hz))
}

// Source reads the current counter value. Implementations must be safe to
// call from any goroutine.
type Source interface {
	Now() Ticks
}

// Wall is the production Source. It derives ticks from Go's monotonic clock;
// the runtime performs the read as a single operation, so a Wall read can
// never be torn.
type Wall struct {
	start time.Time
}

// NewWall returns a Source that starts counting from now.
func NewWall() *Wall {
	return &Wall{start: time.Now()}
}

// Now returns the current counter value.
func (w *Wall) Now() Ticks {
	return FromDuration(time.Since(w.start))
}
