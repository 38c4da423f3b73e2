package gpio

import (
	"fmt"
	"sync"

	"github.com/mecabot/mecabot/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
	"github.com/warthog618/go-gpiocdev"
)

// pwmCycle is the PWM cycle length in clock ticks; duty resolution is 0.1%.
const pwmCycle = 1000

// Hardware PWM capable pins on the BCM2711 (PWM0: 12, 18; PWM1: 13, 19).
var pwmCapable = map[int]bool{12: true, 13: true, 18: true, 19: true}

// RPiDriver is the real implementation for Raspberry Pi.
// Outputs, pull bias and hardware PWM go through go-rpio (memory mapped);
// edge events come from the GPIO character device via go-gpiocdev, which
// delivers them on its own goroutine.
type RPiDriver struct {
	chip string

	mu    sync.Mutex
	pins  map[int]rpio.Pin
	modes map[int]PinMode
	pwm   map[int]bool
	lines map[int]*gpiocdev.Line
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver(chip string) (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio + %s)", chip)

	if err := rpio.Open(); err != nil {
		return nil, &ResourceError{Op: "open", Pin: -1, Err: fmt.Errorf("%w (are you running on a Raspberry Pi?)", err)}
	}

	debug.Verbose("GPIO memory mapped successfully")

	if chip == "" {
		chip = "gpiochip0"
	}
	return &RPiDriver{
		chip:  chip,
		pins:  make(map[int]rpio.Pin),
		modes: make(map[int]PinMode),
		pwm:   make(map[int]bool),
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupLocked(pin, mode)
}

func (r *RPiDriver) setupLocked(pin int, mode PinMode) error {
	p := rpio.Pin(pin)
	r.pins[pin] = p
	r.modes[pin] = mode

	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case InputPullDown:
		p.Input()
		p.PullDown()
	case Output:
		p.Output()
	default:
		return &ResourceError{Op: "setup", Pin: pin, Err: fmt.Errorf("unknown pin mode: %d", mode)}
	}

	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.setupLocked(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.setupLocked(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	if p.Read() == rpio.High {
		return High, nil
	}
	return Low, nil
}

func (r *RPiDriver) StartPWM(pin int, freqHz int) error {
	debug.GPIO("StartPWM", pin, freqHz)

	if !pwmCapable[pin] {
		return &ResourceError{Op: "pwm", Pin: pin, Err: fmt.Errorf("pin has no hardware PWM channel")}
	}
	if freqHz <= 0 {
		return &ResourceError{Op: "pwm", Pin: pin, Err: fmt.Errorf("invalid frequency %d Hz", freqHz)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := rpio.Pin(pin)
	p.Pwm()
	// Output frequency is clock frequency / cycle length.
	p.Freq(freqHz * pwmCycle)
	p.DutyCycle(0, pwmCycle)

	r.pins[pin] = p
	r.modes[pin] = Output
	r.pwm[pin] = true
	return nil
}

func (r *RPiDriver) SetDuty(pin int, percent float64) error {
	debug.GPIO("SetDuty", pin, percent)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pwm[pin] {
		return fmt.Errorf("pwm not started on pin %d", pin)
	}
	r.pins[pin].DutyCycle(uint32(percent/100*pwmCycle+0.5), pwmCycle)
	return nil
}

func (r *RPiDriver) StopPWM(pin int) error {
	debug.GPIO("StopPWM", pin, nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopPWMLocked(pin)
	return nil
}

func (r *RPiDriver) stopPWMLocked(pin int) {
	if !r.pwm[pin] {
		return
	}
	p := r.pins[pin]
	p.DutyCycle(0, pwmCycle)
	p.Output()
	p.Low()
	delete(r.pwm, pin)
}

func (r *RPiDriver) WatchEdge(pin int, edge Edge, handler EdgeHandler) error {
	debug.GPIO("WatchEdge", pin, edge)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lines[pin]; ok {
		return &ResourceError{Op: "watch", Pin: pin, Err: fmt.Errorf("edge watch already registered")}
	}

	opts := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("mecabot"),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			handler(evt.Offset)
		}),
	}
	switch r.modes[pin] {
	case InputPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case Input:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	default:
		opts = append(opts, gpiocdev.WithPullUp)
	}
	switch edge {
	case FallingEdge:
		opts = append(opts, gpiocdev.WithFallingEdge)
	case BothEdges:
		opts = append(opts, gpiocdev.WithBothEdges)
	default:
		opts = append(opts, gpiocdev.WithRisingEdge)
	}

	line, err := gpiocdev.RequestLine(r.chip, pin, opts...)
	if err != nil {
		return &ResourceError{Op: "watch", Pin: pin, Err: err}
	}
	r.lines[pin] = line
	return nil
}

func (r *RPiDriver) Release(pin int) error {
	debug.GPIO("Release", pin, nil)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(pin)
}

func (r *RPiDriver) releaseLocked(pin int) error {
	var err error
	if line, ok := r.lines[pin]; ok {
		err = line.Close()
		delete(r.lines, pin)
	}
	r.stopPWMLocked(pin)
	if p, ok := r.pins[pin]; ok {
		p.Input()
		p.PullOff()
		delete(r.pins, pin)
		delete(r.modes, pin)
	}
	return err
}

func (r *RPiDriver) Close() error {
	debug.Trace("GPIO Close (real driver)")

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all pins to input (safe state)
	for pin := range r.lines {
		if err := r.releaseLocked(pin); err != nil {
			debug.Error(err)
		}
	}
	for pin := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		_ = r.releaseLocked(pin)
	}

	return rpio.Close()
}
