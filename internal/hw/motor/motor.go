package motor

import (
	"errors"
	"fmt"

	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/logic/pattern"
)

// Config holds the hardware configuration for one wheel motor.
//
// VNH5019 direction inputs:
//
//	INA | INB | Function
//	 1  |  1  | Brake to Vcc
//	 1  |  0  | Clockwise
//	 0  |  1  | Counterclockwise
//	 0  |  0  | Brake to GND
type Config struct {
	INAPin   int
	INBPin   int
	PWMPin   int
	Mirrored bool // motor mounted facing the other way (right side): forward is counterclockwise
}

// Motor drives one wheel through an H-bridge: two direction lines and a PWM channel.
type Motor struct {
	gpio gpio.Driver
	name string
	cfg  Config

	// which pins were claimed, so Shutdown after a partial Setup only touches those
	lines bool
	pwm   bool
}

// NewMotor creates a wheel motor controller. Call Setup before use.
func NewMotor(g gpio.Driver, name string, cfg Config) *Motor {
	return &Motor{
		gpio: g,
		name: name,
		cfg:  cfg,
	}
}

// Lines returns the INA/INB levels for a wheel state.
func Lines(s pattern.State, mirrored bool) (ina, inb gpio.Level) {
	switch s {
	case pattern.Forward:
		if mirrored {
			return gpio.Low, gpio.High
		}
		return gpio.High, gpio.Low
	case pattern.Reverse:
		if mirrored {
			return gpio.High, gpio.Low
		}
		return gpio.Low, gpio.High
	case pattern.BrakeHigh:
		return gpio.High, gpio.High
	}
	return gpio.Low, gpio.Low
}

// Setup configures both direction lines as outputs held low and starts the
// PWM channel at freqHz with 0% duty.
func (m *Motor) Setup(freqHz int) error {
	debug.Verbose("Motor %s: setup INA=%d INB=%d PWM=%d mirrored=%v",
		m.name, m.cfg.INAPin, m.cfg.INBPin, m.cfg.PWMPin, m.cfg.Mirrored)

	for _, pin := range []int{m.cfg.INAPin, m.cfg.INBPin} {
		if err := m.gpio.SetupPin(pin, gpio.Output); err != nil {
			return fmt.Errorf("motor %s: %w", m.name, err)
		}
		m.lines = true
		if err := m.gpio.WritePin(pin, gpio.Low); err != nil {
			return fmt.Errorf("motor %s: %w", m.name, err)
		}
	}

	if err := m.gpio.StartPWM(m.cfg.PWMPin, freqHz); err != nil {
		return fmt.Errorf("motor %s: %w", m.name, err)
	}
	m.pwm = true
	return nil
}

// Apply writes the direction lines for s. Duty cycle is unchanged.
func (m *Motor) Apply(s pattern.State) error {
	ina, inb := Lines(s, m.cfg.Mirrored)
	debug.Trace("Motor %s: %s (INA=%v INB=%v)", m.name, s, ina, inb)

	if err := m.gpio.WritePin(m.cfg.INAPin, ina); err != nil {
		return err
	}
	return m.gpio.WritePin(m.cfg.INBPin, inb)
}

// SetDuty sets the PWM duty cycle in percent.
func (m *Motor) SetDuty(percent float64) error {
	if !m.pwm {
		return nil
	}
	return m.gpio.SetDuty(m.cfg.PWMPin, percent)
}

// Brake forces both direction lines low and zeroes the duty cycle.
// It only touches pins Setup managed to claim.
func (m *Motor) Brake() error {
	var errs []error
	if m.lines {
		errs = append(errs, m.Apply(pattern.BrakeLow))
	}
	if m.pwm {
		errs = append(errs, m.gpio.SetDuty(m.cfg.PWMPin, 0))
	}
	return errors.Join(errs...)
}

// Shutdown stops the PWM channel and releases all three pins.
// Safe to call repeatedly and after a failed Setup.
func (m *Motor) Shutdown() error {
	var errs []error
	if m.pwm {
		errs = append(errs, m.gpio.StopPWM(m.cfg.PWMPin))
		errs = append(errs, m.gpio.Release(m.cfg.PWMPin))
		m.pwm = false
	}
	if m.lines {
		errs = append(errs, m.Apply(pattern.BrakeLow))
		errs = append(errs, m.gpio.Release(m.cfg.INAPin))
		errs = append(errs, m.gpio.Release(m.cfg.INBPin))
		m.lines = false
	}
	return errors.Join(errs...)
}
