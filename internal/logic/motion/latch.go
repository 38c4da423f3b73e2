package motion

import "sync/atomic"

// Latch is the emergency-stop signal. While asserted, no drive may start and
// any drive in progress stops within one poll interval.
// The zero value is released.
type Latch struct {
	asserted atomic.Bool
}

// Assert sets the latch.
func (l *Latch) Assert() {
	l.asserted.Store(true)
}

// Clear releases the latch.
func (l *Latch) Clear() {
	l.asserted.Store(false)
}

// Toggle flips the latch and returns the new state. A push button wired to
// the latch uses this: first press stops, second press re-arms.
func (l *Latch) Toggle() bool {
	for {
		old := l.asserted.Load()
		if l.asserted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Asserted reports whether the latch is set. A nil latch is never asserted.
func (l *Latch) Asserted() bool {
	if l == nil {
		return false
	}
	return l.asserted.Load()
}
