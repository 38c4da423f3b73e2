// Package motion drives the four wheels of the base.
//
// An Engine holds a single drive session at a time. A drive applies a
// direction pattern, waits for its stop condition (elapsed time or encoder
// ticks), then brakes every wheel. Tick-targeted drives reset the counters
// they compare against before starting and again when they finish, so no
// move inherits ticks from the previous one.
//
// A tick-targeted drive whose wheel is stalled never reaches its target.
// That is not detected here: callers bound it with a context deadline or the
// emergency-stop latch.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mecabot/mecabot/internal/config"
	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/motor"
	"github.com/mecabot/mecabot/internal/hw/wheel"
	"github.com/mecabot/mecabot/internal/logic/geometry"
	"github.com/mecabot/mecabot/internal/logic/pattern"
)

// State is the engine state machine position.
type State int32

const (
	Idle State = iota
	DrivingTimed
	DrivingTicks
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case DrivingTimed:
		return "driving_timed"
	case DrivingTicks:
		return "driving_ticks"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// BusyPolicy selects what happens to a drive requested while another runs.
type BusyPolicy int

const (
	RejectWhenBusy BusyPolicy = iota // fail with a BusyError
	WaitWhenBusy                     // block until the engine is free or the context ends
)

// Strategy selects how DriveDistance and Rotate measure progress.
type Strategy int

const (
	ReferenceWheel Strategy = iota
	AverageWheels
)

// Encoder is the part of the encoder subsystem the engine polls.
type Encoder interface {
	Read(w wheel.ID) (uint64, error)
	Reset(w wheel.ID) error
	ResetAll()
	Edges() <-chan struct{}
}

// Config holds the engine parameters.
type Config struct {
	Motors         [wheel.Count]motor.Config
	DutyPercent    float64       // speed applied when a drive starts
	PollInterval   time.Duration // tick poll and latch check period; 0 means 1ms
	BusyPolicy     BusyPolicy
	Strategy       Strategy
	ReferenceWheel wheel.ID
	Ticks          *geometry.TicksCalculator // required by DriveDistance and Rotate
}

// ConfigFrom builds the engine configuration from the application config.
func ConfigFrom(cfg *config.Config) (Config, error) {
	ref, err := cfg.ReferenceWheel()
	if err != nil {
		return Config{}, err
	}
	c := Config{
		DutyPercent:    cfg.Motor.DutyPercent,
		PollInterval:   cfg.PollInterval(),
		ReferenceWheel: ref,
		Ticks:          geometry.NewTicksCalculator(cfg),
	}
	if cfg.Motor.BusyPolicy == config.BusyWait {
		c.BusyPolicy = WaitWhenBusy
	}
	if cfg.Motor.TickStrategy == config.TicksAverage {
		c.Strategy = AverageWheels
	}
	for _, w := range wheel.All() {
		wc := cfg.Wheels.Get(w)
		c.Motors[w] = motor.Config{
			INAPin:   wc.INAPin,
			INBPin:   wc.INBPin,
			PWMPin:   wc.PWMPin,
			Mirrored: wc.Mirrored,
		}
	}
	return c, nil
}

// Status is a snapshot of the engine for status surfaces.
type Status struct {
	State         string  `json:"state"`
	Motion        string  `json:"motion,omitempty"`
	Condition     string  `json:"condition,omitempty"`
	DutyPercent   float64 `json:"duty_percent"`
	EmergencyStop bool    `json:"emergency_stop"`
}

// Engine is the motor drive engine.
type Engine struct {
	enc   Encoder
	cfg   Config
	latch *Latch

	// session lock: one token, held for the whole drive
	sem   chan struct{}
	state atomic.Int32

	mu        sync.Mutex // guards everything below and all motor I/O
	motors    [wheel.Count]*motor.Motor
	ready     bool
	duty      float64
	motion    pattern.Motion
	condition StopCondition
	cancel    context.CancelCauseFunc
}

// NewEngine creates a drive engine. Call Setup before driving.
// latch may be nil when no emergency stop is wired.
func NewEngine(g gpio.Driver, enc Encoder, cfg Config, latch *Latch) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}
	e := &Engine{
		enc:   enc,
		cfg:   cfg,
		latch: latch,
		sem:   make(chan struct{}, 1),
		duty:  cfg.DutyPercent,
	}
	for _, w := range wheel.All() {
		e.motors[w] = motor.NewMotor(g, w.String(), cfg.Motors[w])
	}
	return e
}

// Setup claims the eight direction lines as outputs held low and starts the
// four PWM channels at freqHz with 0% duty. If any pin cannot be configured,
// everything claimed so far is released and the error (a gpio.ResourceError)
// is returned.
func (e *Engine) Setup(freqHz int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ready {
		return errors.New("motion: engine already set up")
	}

	debug.Section("Motor Setup")
	debug.Value("PWM frequency (Hz)", freqHz)
	debug.Value("Default duty (%)", e.duty)

	for _, w := range wheel.All() {
		if err := e.motors[w].Setup(freqHz); err != nil {
			debug.Error(err)
			_ = e.shutdownLocked()
			return err
		}
	}
	e.ready = true
	return nil
}

// SetSpeed sets the duty cycle of all four PWM channels.
// The value is kept and re-applied at the start of every drive.
func (e *Engine) SetSpeed(percent float64) error {
	if math.IsNaN(percent) || percent < 0 || percent > 100 {
		return fmt.Errorf("%w, got %v", ErrInvalidSpeed, percent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return ErrNotReady
	}
	e.duty = percent
	debug.Verbose("Motor: speed %.1f%%", percent)
	return e.applyDutyLocked(percent)
}

// Speed returns the configured duty cycle.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duty
}

// State returns the current state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Busy reports whether a drive session is active.
func (e *Engine) Busy() bool {
	return e.State() != Idle
}

// Latch returns the emergency-stop latch the engine observes.
func (e *Engine) Latch() *Latch {
	return e.latch
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		State:         e.State().String(),
		DutyPercent:   e.duty,
		EmergencyStop: e.latch.Asserted(),
	}
	if e.State() != Idle {
		st.Motion = e.motion.String()
		st.Condition = e.condition.String()
	}
	return st
}

// Drive applies the pattern of motion m and blocks until cond is met, then
// brakes every wheel and returns to Idle.
//
// A drive ends early with ErrEmergencyStop when the latch is asserted, with
// ErrStopped when Stop or Shutdown is called, or with the context error.
// In every case the wheels are braked before Drive returns.
func (e *Engine) Drive(ctx context.Context, m pattern.Motion, cond StopCondition) error {
	p, err := pattern.For(m)
	if err != nil {
		return err
	}
	if cond.kind == untilReference {
		if err := wheel.Check(cond.reference); err != nil {
			return err
		}
		if p.Of(cond.reference) == pattern.BrakeLow {
			return &IdleReferenceError{Motion: m, Reference: cond.reference.String()}
		}
	}

	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	session, err := e.begin(ctx, m, p, cond)
	if err != nil {
		return err
	}
	if session == nil {
		// Target already reached: nothing to drive.
		return e.finish(cond, nil)
	}

	var waitErr error
	if cond.TickTargeted() {
		waitErr = e.waitTicks(session, p, cond)
	} else {
		waitErr = e.waitElapsed(session, cond.duration)
	}
	return e.finish(cond, waitErr)
}

// DriveDistance drives a translation motion for cm centimeters, measured with
// the configured tick strategy.
func (e *Engine) DriveDistance(ctx context.Context, m pattern.Motion, cm float64) error {
	if m.Rotation() {
		return fmt.Errorf("motion: %s is a rotation, use Rotate", m)
	}
	if e.cfg.Ticks == nil {
		return errors.New("motion: no tick calibration configured")
	}
	target := e.cfg.Ticks.TicksForDistance(cm)
	debug.Verbose("Motor: %s %.1f cm = %d ticks", m, cm, target)
	return e.Drive(ctx, m, e.TickCondition(m, target))
}

// Rotate turns the base in place by degrees, measured with the configured
// tick strategy.
func (e *Engine) Rotate(ctx context.Context, m pattern.Motion, degrees float64) error {
	if !m.Rotation() {
		return fmt.Errorf("motion: %s is not a rotation", m)
	}
	if e.cfg.Ticks == nil {
		return errors.New("motion: no tick calibration configured")
	}
	target := e.cfg.Ticks.TicksForRotation(degrees)
	debug.Verbose("Motor: %s %.1f° = %d ticks", m, degrees, target)
	return e.Drive(ctx, m, e.TickCondition(m, target))
}

// TickCondition picks the stop condition for the configured strategy. When
// the reference wheel is braked by m (diagonal moves), the first driven
// wheel is polled instead.
func (e *Engine) TickCondition(m pattern.Motion, target uint64) StopCondition {
	if e.cfg.Strategy == AverageWheels {
		return AverageTicks(target)
	}
	ref := e.cfg.ReferenceWheel
	if p, err := pattern.For(m); err == nil && p.Of(ref) == pattern.BrakeLow {
		for _, w := range wheel.All() {
			if p.Of(w) != pattern.BrakeLow {
				debug.Verbose("Motor: %s brakes %s, polling %s", m, ref, w)
				ref = w
				break
			}
		}
	}
	return Ticks(ref, target)
}

// Stop brakes every wheel and zeroes every duty cycle. A drive in progress
// returns ErrStopped. Safe to call at any time, repeatedly.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel(ErrStopped)
	}
	return e.brakeLocked()
}

// Shutdown stops any drive and releases all motor pins.
// Safe to call repeatedly and after a failed Setup.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		e.cancel(ErrStopped)
	}
	if e.ready {
		debug.Verbose("Motor: shutdown")
	}
	return e.shutdownLocked()
}

func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	default:
	}

	if e.cfg.BusyPolicy == RejectWhenBusy {
		e.mu.Lock()
		active := e.motion
		e.mu.Unlock()
		return &BusyError{Active: active}
	}

	debug.Verbose("Motor: busy, waiting for the current drive")
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.sem
}

// begin opens a drive session. It returns a nil context when a tick target is
// already met after the counters were reset.
func (e *Engine) begin(ctx context.Context, m pattern.Motion, p pattern.Pattern, cond StopCondition) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ready {
		return nil, ErrNotReady
	}
	if e.latch.Asserted() {
		return nil, ErrEmergencyStop
	}

	e.motion = m
	e.condition = cond
	debug.Drive(m.String(), cond.String())

	if cond.TickTargeted() {
		e.resetCounters(cond)
		if e.progress(p, cond) >= cond.target {
			e.state.Store(int32(DrivingTicks))
			return nil, nil
		}
	} else if cond.duration <= 0 {
		e.state.Store(int32(DrivingTimed))
		return nil, nil
	}

	for _, w := range wheel.All() {
		if err := e.motors[w].Apply(p.Of(w)); err != nil {
			_ = e.brakeLocked()
			return nil, err
		}
	}
	if err := e.applyDutyLocked(e.duty); err != nil {
		_ = e.brakeLocked()
		return nil, err
	}

	session, cancel := context.WithCancelCause(ctx)
	e.cancel = cancel
	if cond.TickTargeted() {
		e.state.Store(int32(DrivingTicks))
	} else {
		e.state.Store(int32(DrivingTimed))
	}
	return session, nil
}

// finish brakes the wheels, resets tick counters and returns to Idle.
func (e *Engine) finish(cond StopCondition, waitErr error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stopErr := e.brakeLocked()
	if cond.TickTargeted() {
		e.resetCounters(cond)
	}
	if e.cancel != nil {
		e.cancel(nil)
		e.cancel = nil
	}
	e.state.Store(int32(Idle))

	switch {
	case waitErr == nil:
		debug.Live("Motor: %s done", e.motion)
	case errors.Is(waitErr, ErrEmergencyStop):
		debug.Info("Motor: %s aborted by emergency stop", e.motion)
	default:
		debug.Info("Motor: %s aborted: %v", e.motion, waitErr)
	}
	return errors.Join(waitErr, stopErr)
}

func (e *Engine) waitElapsed(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			if e.latch.Asserted() {
				return ErrEmergencyStop
			}
		}
	}
}

func (e *Engine) waitTicks(ctx context.Context, p pattern.Pattern, cond StopCondition) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n := e.progress(p, cond); n >= cond.target {
			if cond.kind == untilReference {
				debug.Ticks(cond.reference.String(), n)
			} else {
				debug.Ticks("average", n)
			}
			return nil
		}
		if e.latch.Asserted() {
			return ErrEmergencyStop
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-e.enc.Edges():
		case <-ticker.C:
		}
	}
}

// progress returns the count compared against the target.
func (e *Engine) progress(p pattern.Pattern, cond StopCondition) uint64 {
	if cond.kind == untilReference {
		n, _ := e.enc.Read(cond.reference)
		return n
	}
	var sum, driven uint64
	for _, w := range wheel.All() {
		if p.Of(w) == pattern.BrakeLow {
			continue
		}
		n, _ := e.enc.Read(w)
		sum += n
		driven++
	}
	if driven == 0 {
		return 0
	}
	return sum / driven
}

func (e *Engine) resetCounters(cond StopCondition) {
	if cond.kind == untilReference {
		_ = e.enc.Reset(cond.reference)
		return
	}
	e.enc.ResetAll()
}

func (e *Engine) applyDutyLocked(percent float64) error {
	var errs []error
	for _, w := range wheel.All() {
		errs = append(errs, e.motors[w].SetDuty(percent))
	}
	return errors.Join(errs...)
}

func (e *Engine) brakeLocked() error {
	var errs []error
	for _, w := range wheel.All() {
		errs = append(errs, e.motors[w].Brake())
	}
	return errors.Join(errs...)
}

func (e *Engine) shutdownLocked() error {
	var errs []error
	for _, w := range wheel.All() {
		errs = append(errs, e.motors[w].Shutdown())
	}
	e.ready = false
	return errors.Join(errs...)
}
