package gpio

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mecabot/mecabot/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// PinMode indicates whether a GPIO is input or output, and the input bias.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp
	InputPullDown
)

// Edge selects which signal transitions trigger an edge handler.
type Edge int

const (
	RisingEdge Edge = iota
	FallingEdge
	BothEdges
)

func (e Edge) String() string {
	switch e {
	case RisingEdge:
		return "rising"
	case FallingEdge:
		return "falling"
	case BothEdges:
		return "both"
	}
	return fmt.Sprintf("edge(%d)", int(e))
}

// ParseEdge converts "rising", "falling" or "both" into an Edge.
func ParseEdge(s string) (Edge, error) {
	switch strings.ToLower(s) {
	case "rising", "":
		return RisingEdge, nil
	case "falling":
		return FallingEdge, nil
	case "both":
		return BothEdges, nil
	}
	return 0, fmt.Errorf("unknown edge %q (want rising, falling or both)", s)
}

// EdgeHandler is invoked from the driver's event context, once per detected edge.
// It must not block.
type EdgeHandler func(pin int)

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)

	// StartPWM configures pin as a PWM output at freqHz with 0% duty.
	StartPWM(pin int, freqHz int) error
	// SetDuty sets the duty cycle of a started PWM pin, in percent (0-100).
	SetDuty(pin int, percent float64) error
	StopPWM(pin int) error

	// WatchEdge registers handler for edges on an input pin.
	WatchEdge(pin int, edge Edge, handler EdgeHandler) error
	// Release stops any PWM or edge watch on pin and returns it to a safe input state.
	Release(pin int) error

	Close() error
}

// ErrUnavailable matches every ResourceError with errors.Is.
var ErrUnavailable = errors.New("gpio resource unavailable")

// ResourceError reports a pin that could not be configured (permissions,
// pin already claimed, unsupported function).
type ResourceError struct {
	Op  string
	Pin int
	Err error
}

func (err *ResourceError) Error() string {
	if err.Pin < 0 {
		return fmt.Sprintf("gpio %s: %v", err.Op, err.Err)
	}
	return fmt.Sprintf("gpio %s pin %d: %v", err.Op, err.Pin, err.Err)
}

func (err *ResourceError) Unwrap() error { return err.Err }

func (err *ResourceError) Is(target error) bool { return target == ErrUnavailable }

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi); chip names the
// character device used for edge events (e.g. "gpiochip0").
func NewDriver(mock bool, chip string) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver(chip)
}

type watch struct {
	edge    Edge
	handler EdgeHandler
}

// MockDriver is a test implementation that logs actions and keeps pin state
// in memory. Used for development on PC, the encoder simulator and tests.
// The zero value is ready to use.
type MockDriver struct {
	// Fail, if set, is consulted before every operation; a non-nil result is
	// returned as a ResourceError.
	Fail func(op string, pin int) error

	mu      sync.Mutex
	modes   map[int]PinMode
	levels  map[int]Level
	duty    map[int]float64
	freq    map[int]int
	watches map[int][]watch
	closed  bool
}

func (m *MockDriver) init() {
	if m.modes == nil {
		m.modes = make(map[int]PinMode)
		m.levels = make(map[int]Level)
		m.duty = make(map[int]float64)
		m.freq = make(map[int]int)
		m.watches = make(map[int][]watch)
	}
}

func (m *MockDriver) fail(op string, pin int) error {
	if m.Fail == nil {
		return nil
	}
	if err := m.Fail(op, pin); err != nil {
		return &ResourceError{Op: op, Pin: pin, Err: err}
	}
	return nil
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if err := m.fail("setup", pin); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = mode
	if mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	if err := m.fail("write", pin); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.levels[pin] = level
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	return m.levels[pin], nil
}

func (m *MockDriver) StartPWM(pin int, freqHz int) error {
	debug.GPIO("StartPWM", pin, freqHz)
	if err := m.fail("pwm", pin); err != nil {
		return err
	}
	if freqHz <= 0 {
		return &ResourceError{Op: "pwm", Pin: pin, Err: fmt.Errorf("invalid frequency %d Hz", freqHz)}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.modes[pin] = Output
	m.freq[pin] = freqHz
	m.duty[pin] = 0
	return nil
}

func (m *MockDriver) SetDuty(pin int, percent float64) error {
	debug.GPIO("SetDuty", pin, percent)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	if _, ok := m.freq[pin]; !ok {
		return fmt.Errorf("pwm not started on pin %d", pin)
	}
	m.duty[pin] = percent
	return nil
}

func (m *MockDriver) StopPWM(pin int) error {
	debug.GPIO("StopPWM", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	delete(m.freq, pin)
	delete(m.duty, pin)
	return nil
}

func (m *MockDriver) WatchEdge(pin int, edge Edge, handler EdgeHandler) error {
	debug.GPIO("WatchEdge", pin, edge)
	if err := m.fail("watch", pin); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.watches[pin] = append(m.watches[pin], watch{edge: edge, handler: handler})
	return nil
}

func (m *MockDriver) Release(pin int) error {
	debug.GPIO("Release", pin, nil)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	delete(m.watches, pin)
	delete(m.freq, pin)
	delete(m.duty, pin)
	m.modes[pin] = Input
	return nil
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watches = nil
	m.modes = nil
	m.levels = nil
	m.duty = nil
	m.freq = nil
	return nil
}

// Pulse simulates one full high-low pulse on an input pin, invoking every
// handler watching it: once for rising or falling watches, twice for both.
func (m *MockDriver) Pulse(pin int) {
	m.mu.Lock()
	ws := append([]watch(nil), m.watches[pin]...)
	m.mu.Unlock()

	for _, w := range ws {
		w.handler(pin)
		if w.edge == BothEdges {
			w.handler(pin)
		}
	}
}

// Level returns the last level written to pin.
func (m *MockDriver) Level(pin int) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

// Duty returns the current duty cycle of pin, and whether PWM is running on it.
func (m *MockDriver) Duty(pin int) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.duty[pin]
	return d, ok
}

// Mode returns the configured mode of pin.
func (m *MockDriver) Mode(pin int) (PinMode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mode, ok := m.modes[pin]
	return mode, ok
}

// Watching reports how many edge handlers are registered on pin.
func (m *MockDriver) Watching(pin int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches[pin])
}
