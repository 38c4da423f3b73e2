// Package encoder counts wheel encoder ticks.
//
// Each wheel owns one counter, incremented by exactly one per recognized edge
// on any of that wheel's sensing lines. Handlers run on the GPIO driver's event
// context; counters are lock-free atomics so an increment is never delayed by
// a concurrent read or reset from the control loop.
//
// Resolution is a hardware choice. With one channel on rising edges a 64 CPR
// encoder on a 50 mm radius wheel gives roughly 2 cm per tick; watching both
// channels on both edges gives about 0.5 cm per tick. Edges the kernel drops
// under load are lost silently: the count is a best-effort measurement and
// the increment path never reports errors.
//
// Counters are uint64 and wrap at 2^64, which no session reaches.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/wheel"
)

// Config holds the sensing lines for each wheel.
type Config struct {
	Pins map[wheel.ID][]int // channel A (and optionally B) per wheel
	Edge gpio.Edge
}

// Encoder owns the per-wheel tick counters.
type Encoder struct {
	gpio gpio.Driver
	cfg  Config

	counts [wheel.Count]atomic.Uint64
	kick   chan struct{}

	mu     sync.Mutex
	active []int // pins with a registered watch
	setup  bool
}

// New creates an encoder subsystem. Call Setup to start counting.
func New(g gpio.Driver, cfg Config) *Encoder {
	return &Encoder{
		gpio: g,
		cfg:  cfg,
		kick: make(chan struct{}, 1),
	}
}

// Setup configures every sensing line as a pulled-up input and registers an
// edge handler for it. On failure the lines already claimed are released.
// Calling Setup twice without Shutdown in between is an error.
func (e *Encoder) Setup() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.setup {
		return errors.New("encoder: already set up")
	}

	debug.Verbose("Encoder: setup (edge=%s)", e.cfg.Edge)
	for _, w := range wheel.All() {
		for _, pin := range e.cfg.Pins[w] {
			if err := e.gpio.SetupPin(pin, gpio.InputPullUp); err != nil {
				e.releaseLocked()
				return fmt.Errorf("encoder %s: %w", w, err)
			}
			id := w
			if err := e.gpio.WatchEdge(pin, e.cfg.Edge, func(int) { e.OnEdge(id) }); err != nil {
				e.releaseLocked()
				return fmt.Errorf("encoder %s: %w", w, err)
			}
			e.active = append(e.active, pin)
		}
	}
	e.setup = true
	return nil
}

// OnEdge records one tick for w. Unknown wheels are ignored.
func (e *Encoder) OnEdge(w wheel.ID) {
	if !w.Valid() {
		debug.Trace("Encoder: edge for invalid wheel %v dropped", w)
		return
	}
	e.counts[w].Add(1)
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Read returns the ticks counted on w since its last reset.
func (e *Encoder) Read(w wheel.ID) (uint64, error) {
	if err := wheel.Check(w); err != nil {
		debug.Error(err)
		return 0, err
	}
	return e.counts[w].Load(), nil
}

// Reset sets the tick count of w to zero.
func (e *Encoder) Reset(w wheel.ID) error {
	if err := wheel.Check(w); err != nil {
		debug.Error(err)
		return err
	}
	e.counts[w].Store(0)
	return nil
}

// ResetAll zeroes every counter.
func (e *Encoder) ResetAll() {
	for i := range e.counts {
		e.counts[i].Store(0)
	}
}

// Counts returns a snapshot of all counters keyed by wheel.
func (e *Encoder) Counts() map[wheel.ID]uint64 {
	out := make(map[wheel.ID]uint64, wheel.Count)
	for _, w := range wheel.All() {
		out[w] = e.counts[w].Load()
	}
	return out
}

// Average returns the integer mean of the four counters.
func (e *Encoder) Average() uint64 {
	var sum uint64
	for i := range e.counts {
		sum += e.counts[i].Load()
	}
	return sum / wheel.Count
}

// Edges signals (coalesced) that at least one edge arrived since the last
// receive. Pollers use it to wake up early instead of spinning.
func (e *Encoder) Edges() <-chan struct{} {
	return e.kick
}

// Shutdown deregisters all edge handlers and releases the sensing lines.
// It is safe to call more than once, and after a failed Setup.
func (e *Encoder) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	debug.Verbose("Encoder: shutdown")
	err := e.releaseLocked()
	e.setup = false
	return err
}

func (e *Encoder) releaseLocked() error {
	var errs []error
	for _, pin := range e.active {
		if err := e.gpio.Release(pin); err != nil {
			errs = append(errs, err)
		}
	}
	e.active = nil
	return errors.Join(errs...)
}
