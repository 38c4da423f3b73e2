// Package sim generates encoder edges on a mock GPIO driver while the
// simulated motors are driven, so the drive engine can run off-robot.
//
// A wheel turns when its direction lines differ and its PWM duty is above
// zero. It then produces ticks at TicksPerSecond scaled by duty.
package sim

import (
	"context"
	"time"

	"github.com/mecabot/mecabot/internal/config"
	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/wheel"
)

// DefaultInterval is the simulation step used by Run.
const DefaultInterval = time.Millisecond

// Wheel holds the pins the simulator watches and drives for one wheel.
type Wheel struct {
	INAPin      int
	INBPin      int
	PWMPin      int
	EncoderPins []int
}

// Simulator turns motor outputs into encoder edges.
type Simulator struct {
	drv            *gpio.MockDriver
	wheels         map[wheel.ID]Wheel
	ticksPerSecond float64

	pending [wheel.Count]float64 // fractional ticks carried between steps
	total   [wheel.Count]uint64
}

// New creates a simulator producing ticksPerSecond at 100% duty.
func New(drv *gpio.MockDriver, wheels map[wheel.ID]Wheel, ticksPerSecond float64) *Simulator {
	return &Simulator{
		drv:            drv,
		wheels:         wheels,
		ticksPerSecond: ticksPerSecond,
	}
}

// FromConfig creates a simulator for the configured wheel pins.
func FromConfig(drv *gpio.MockDriver, cfg *config.Config) *Simulator {
	wheels := make(map[wheel.ID]Wheel, wheel.Count)
	for _, w := range wheel.All() {
		wc := cfg.Wheels.Get(w)
		wheels[w] = Wheel{
			INAPin:      wc.INAPin,
			INBPin:      wc.INBPin,
			PWMPin:      wc.PWMPin,
			EncoderPins: append([]int(nil), wc.EncoderPins...),
		}
	}
	return New(drv, wheels, cfg.Defaults.SimTicksPerSecond)
}

// Step advances the simulation by dt and pulses the encoder lines of every
// turning wheel. It returns the number of ticks generated per wheel.
func (s *Simulator) Step(dt time.Duration) map[wheel.ID]int {
	out := make(map[wheel.ID]int)
	for _, w := range wheel.All() {
		cfg, ok := s.wheels[w]
		if !ok {
			continue
		}
		duty, running := s.drv.Duty(cfg.PWMPin)
		if !running || duty <= 0 || s.drv.Level(cfg.INAPin) == s.drv.Level(cfg.INBPin) {
			s.pending[w] = 0
			continue
		}

		s.pending[w] += s.ticksPerSecond * duty / 100 * dt.Seconds()
		n := int(s.pending[w])
		if n == 0 {
			continue
		}
		s.pending[w] -= float64(n)
		for i := 0; i < n; i++ {
			for _, pin := range cfg.EncoderPins {
				s.drv.Pulse(pin)
			}
		}
		s.total[w] += uint64(n)
		out[w] = n
		debug.Trace("Sim: %s +%d ticks", w, n)
	}
	return out
}

// Total returns the ticks generated for w since the simulator was created.
func (s *Simulator) Total(w wheel.ID) uint64 {
	if !w.Valid() {
		return 0
	}
	return s.total[w]
}

// Run steps the simulation every DefaultInterval until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	debug.Info("Encoder simulator running (%.0f ticks/s at full duty)", s.ticksPerSecond)
	ticker := time.NewTicker(DefaultInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.Step(now.Sub(last))
			last = now
		}
	}
}
