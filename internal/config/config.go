package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/wheel"
)

// MaxConfigFileBytes bounds the size of a configuration file read by Load.
const MaxConfigFileBytes = 64 * 1024

// EnvPrefix is prepended to every environment override variable.
const EnvPrefix = "MECABOT_"

// Busy policies.
const (
	BusyReject = "reject" // a drive while another is active fails with ErrBusy
	BusyWait   = "wait"   // a drive waits for the active one to finish
)

// Tick strategies.
const (
	TicksReference = "reference" // poll a single reference wheel
	TicksAverage   = "average"   // poll the mean of all four wheels
)

// WheelConfig holds the pins of one wheel: H-bridge direction lines,
// PWM channel, and encoder sensing lines (all BCM numbering).
type WheelConfig struct {
	INAPin      int   `yaml:"ina_pin"`
	INBPin      int   `yaml:"inb_pin"`
	PWMPin      int   `yaml:"pwm_pin"`
	EncoderPins []int `yaml:"encoder_pins"` // channel A, optionally channel B
	Mirrored    bool  `yaml:"mirrored"`     // right-side motors are mounted facing the other way
}

// WheelsConfig maps every wheel to its pins.
type WheelsConfig struct {
	FrontRight WheelConfig `yaml:"front_right"`
	FrontLeft  WheelConfig `yaml:"front_left"`
	BackLeft   WheelConfig `yaml:"back_left"`
	BackRight  WheelConfig `yaml:"back_right"`
}

// Get returns the configuration of wheel w.
func (c *WheelsConfig) Get(w wheel.ID) WheelConfig {
	switch w {
	case wheel.FrontRight:
		return c.FrontRight
	case wheel.FrontLeft:
		return c.FrontLeft
	case wheel.BackLeft:
		return c.BackLeft
	case wheel.BackRight:
		return c.BackRight
	}
	return WheelConfig{}
}

// MotorConfig holds the drive engine parameters.
type MotorConfig struct {
	PWMFrequencyHz int     `yaml:"pwm_frequency_hz"`
	DutyPercent    float64 `yaml:"duty_percent"`     // shared speed applied to all four channels
	PollIntervalMs int     `yaml:"poll_interval_ms"` // tick poll and emergency-stop check period
	BusyPolicy     string  `yaml:"busy_policy"`      // "reject" or "wait"
	TickStrategy   string  `yaml:"tick_strategy"`    // "reference" or "average"
	ReferenceWheel string  `yaml:"reference_wheel"`
}

// EncoderConfig selects how edges are detected.
type EncoderConfig struct {
	Edge     string `yaml:"edge"`      // "rising", "falling" or "both"
	GPIOChip string `yaml:"gpio_chip"` // character device used for edge events
}

// CalibrationConfig converts distances and angles into encoder ticks.
type CalibrationConfig struct {
	TicksPerCm     float64 `yaml:"ticks_per_cm"`     // 0 = derive from wheel radius and ticks per revolution
	TicksPerDegree float64 `yaml:"ticks_per_degree"` // 0 = derive from wheelbase and track width
	WheelRadiusMm  float64 `yaml:"wheel_radius_mm"`
	TicksPerRev    int     `yaml:"ticks_per_rev"`
	WheelbaseMm    float64 `yaml:"wheelbase_mm"`   // front to back axle distance
	TrackWidthMm   float64 `yaml:"track_width_mm"` // left to right wheel distance
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel        int     `yaml:"debug_level"`          // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO          bool    `yaml:"mock_gpio"`            // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	SimTicksPerSecond float64 `yaml:"sim_ticks_per_second"` // simulated encoder rate at 100% duty (mock mode only)
}

// WebConfig configures the HTTP control surface.
type WebConfig struct {
	Port int `yaml:"port"`
}

// MQTTConfig configures the telemetry bridge. An empty broker disables it.
type MQTTConfig struct {
	Broker            string `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID          string `yaml:"client_id"`
	TopicPrefix       string `yaml:"topic_prefix"`
	PublishIntervalMs int    `yaml:"publish_interval_ms"`
}

// Config aggregates all application configuration.
type Config struct {
	Wheels      WheelsConfig      `yaml:"wheels"`
	Motor       MotorConfig       `yaml:"motor"`
	Encoder     EncoderConfig     `yaml:"encoder"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Defaults    DefaultsConfig    `yaml:"defaults"`
	Web         WebConfig         `yaml:"web"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
}

// Overrides are read from MECABOT_* environment variables after the file is
// loaded. Unset variables leave the file value untouched.
type Overrides struct {
	DebugLevel   *int     `env:"DEBUG_LEVEL"`
	MockGPIO     *bool    `env:"MOCK_GPIO"`
	DutyPercent  *float64 `env:"DUTY_PERCENT"`
	BusyPolicy   *string  `env:"BUSY_POLICY"`
	TickStrategy *string  `env:"TICK_STRATEGY"`
	GPIOChip     *string  `env:"GPIO_CHIP"`
	WebPort      *int     `env:"WEB_PORT"`
	MQTTBroker   *string  `env:"MQTT_BROKER"`
}

// Default returns a configuration with every optional field set.
// Wheel pins have no defaults.
func Default() *Config {
	return &Config{
		Motor: MotorConfig{
			PWMFrequencyHz: 100,
			DutyPercent:    10,
			PollIntervalMs: 1,
			BusyPolicy:     BusyReject,
			TickStrategy:   TicksReference,
			ReferenceWheel: wheel.FrontRight.String(),
		},
		Encoder: EncoderConfig{
			Edge:     "rising",
			GPIOChip: "gpiochip0",
		},
		Calibration: CalibrationConfig{
			TicksPerCm:    2, // 64 ticks per revolution on a 50 mm radius wheel
			WheelRadiusMm: 50,
			TicksPerRev:   64,
			WheelbaseMm:   200,
			TrackWidthMm:  180,
		},
		Defaults: DefaultsConfig{
			SimTicksPerSecond: 400,
		},
		Web: WebConfig{Port: 8080},
		MQTT: MQTTConfig{
			ClientID:          "mecabot",
			TopicPrefix:       "mecabot",
			PublishIntervalMs: 200,
		},
	}
}

// ValidateConfigPath checks a user-supplied configuration path: it must be a
// .yaml file directly inside a directory named "configs", without any ".."
// component.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies environment overrides and validates the
// result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MECABOT_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if o.DebugLevel != nil {
		c.Defaults.DebugLevel = *o.DebugLevel
	}
	if o.MockGPIO != nil {
		c.Defaults.MockGPIO = *o.MockGPIO
	}
	if o.DutyPercent != nil {
		c.Motor.DutyPercent = *o.DutyPercent
	}
	if o.BusyPolicy != nil {
		c.Motor.BusyPolicy = *o.BusyPolicy
	}
	if o.TickStrategy != nil {
		c.Motor.TickStrategy = *o.TickStrategy
	}
	if o.GPIOChip != nil {
		c.Encoder.GPIOChip = *o.GPIOChip
	}
	if o.WebPort != nil {
		c.Web.Port = *o.WebPort
	}
	if o.MQTTBroker != nil {
		c.MQTT.Broker = *o.MQTTBroker
	}
	return nil
}

// Validate checks pin assignments and parameter ranges.
func (c *Config) Validate() error {
	seen := make(map[int]string)
	claim := func(pin int, what string) error {
		if pin <= 0 {
			return fmt.Errorf("%s is required", what)
		}
		if prev, ok := seen[pin]; ok {
			return fmt.Errorf("%s: pin %d already used by %s", what, pin, prev)
		}
		seen[pin] = what
		return nil
	}
	for _, w := range wheel.All() {
		wc := c.Wheels.Get(w)
		prefix := "wheels." + w.String()
		if err := claim(wc.INAPin, prefix+".ina_pin"); err != nil {
			return err
		}
		if err := claim(wc.INBPin, prefix+".inb_pin"); err != nil {
			return err
		}
		if err := claim(wc.PWMPin, prefix+".pwm_pin"); err != nil {
			return err
		}
		if len(wc.EncoderPins) == 0 {
			return fmt.Errorf("%s.encoder_pins: at least one pin is required", prefix)
		}
		for i, pin := range wc.EncoderPins {
			if err := claim(pin, fmt.Sprintf("%s.encoder_pins[%d]", prefix, i)); err != nil {
				return err
			}
		}
	}

	if c.Motor.PWMFrequencyHz <= 0 {
		return fmt.Errorf("motor.pwm_frequency_hz must be > 0, got %d", c.Motor.PWMFrequencyHz)
	}
	if c.Motor.DutyPercent < 0 || c.Motor.DutyPercent > 100 {
		return fmt.Errorf("motor.duty_percent must be between 0 and 100, got %.2f", c.Motor.DutyPercent)
	}
	if c.Motor.PollIntervalMs <= 0 {
		c.Motor.PollIntervalMs = 1
	}
	switch c.Motor.BusyPolicy {
	case BusyReject, BusyWait:
	default:
		return fmt.Errorf("motor.busy_policy must be %q or %q, got %q", BusyReject, BusyWait, c.Motor.BusyPolicy)
	}
	switch c.Motor.TickStrategy {
	case TicksReference, TicksAverage:
	default:
		return fmt.Errorf("motor.tick_strategy must be %q or %q, got %q", TicksReference, TicksAverage, c.Motor.TickStrategy)
	}
	if _, err := c.ReferenceWheel(); err != nil {
		return fmt.Errorf("motor.reference_wheel: %w", err)
	}
	if _, err := c.Edge(); err != nil {
		return fmt.Errorf("encoder.edge: %w", err)
	}

	cal := c.Calibration
	if cal.TicksPerCm < 0 || cal.TicksPerDegree < 0 {
		return errors.New("calibration: tick ratios must not be negative")
	}
	if cal.TicksPerCm == 0 && (cal.WheelRadiusMm <= 0 || cal.TicksPerRev <= 0) {
		return errors.New("calibration: ticks_per_cm is 0 and cannot be derived without wheel_radius_mm and ticks_per_rev")
	}
	if cal.TicksPerDegree == 0 && cal.WheelbaseMm+cal.TrackWidthMm <= 0 {
		return errors.New("calibration: ticks_per_degree is 0 and cannot be derived without wheelbase_mm and track_width_mm")
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.SimTicksPerSecond <= 0 {
		c.Defaults.SimTicksPerSecond = 400
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	if c.MQTT.PublishIntervalMs <= 0 {
		c.MQTT.PublishIntervalMs = 200
	}
	return nil
}

// ReferenceWheel returns the wheel polled by reference-strategy tick moves.
func (c *Config) ReferenceWheel() (wheel.ID, error) {
	return wheel.Parse(c.Motor.ReferenceWheel)
}

// Edge returns the configured encoder edge.
func (c *Config) Edge() (gpio.Edge, error) {
	return gpio.ParseEdge(c.Encoder.Edge)
}

// PollInterval returns the tick poll period.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Motor.PollIntervalMs) * time.Millisecond
}

// PublishInterval returns the MQTT tick publishing period.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.MQTT.PublishIntervalMs) * time.Millisecond
}

// EncoderPins returns the sensing lines of every wheel.
func (c *Config) EncoderPins() map[wheel.ID][]int {
	out := make(map[wheel.ID][]int, wheel.Count)
	for _, w := range wheel.All() {
		out[w] = append([]int(nil), c.Wheels.Get(w).EncoderPins...)
	}
	return out
}
