package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/wheel"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"../configs/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	for _, name := range []string{"con fig.yaml", "café.yaml", "robot..v2.yaml"} {
		path := filepath.Join("configs", name)
		if err := ValidateConfigPath(path); err != nil {
			t.Errorf("unexpected error for %q: %v", name, err)
		}
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const wheelsYAML = `
wheels:
  front_right: {ina_pin: 14, inb_pin: 15, pwm_pin: 18, encoder_pins: [9], mirrored: true}
  front_left:  {ina_pin: 26, inb_pin: 16, pwm_pin: 13, encoder_pins: [11]}
  back_left:   {ina_pin: 23, inb_pin: 24, pwm_pin: 12, encoder_pins: [5]}
  back_right:  {ina_pin: 20, inb_pin: 21, pwm_pin: 19, encoder_pins: [6], mirrored: true}
`

const validYAML = wheelsYAML + `
motor:
  pwm_frequency_hz: 100
  duty_percent: 25.0
  poll_interval_ms: 2
  busy_policy: wait
  tick_strategy: average
  reference_wheel: back_left
encoder:
  edge: both
calibration:
  ticks_per_cm: 4
defaults:
  debug_level: 0
  mock_gpio: true
mqtt:
  broker: tcp://localhost:1883
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Wheels.FrontRight.INAPin != 14 || !cfg.Wheels.FrontRight.Mirrored {
		t.Errorf("front_right = %+v", cfg.Wheels.FrontRight)
	}
	if cfg.Wheels.FrontLeft.Mirrored {
		t.Error("front_left should not be mirrored")
	}
	if cfg.Motor.DutyPercent != 25 {
		t.Errorf("duty_percent = %v, want 25", cfg.Motor.DutyPercent)
	}
	if cfg.Motor.BusyPolicy != BusyWait || cfg.Motor.TickStrategy != TicksAverage {
		t.Errorf("policy/strategy = %q/%q", cfg.Motor.BusyPolicy, cfg.Motor.TickStrategy)
	}
	if w, _ := cfg.ReferenceWheel(); w != wheel.BackLeft {
		t.Errorf("reference wheel = %s, want back_left", w)
	}
	if e, _ := cfg.Edge(); e != gpio.BothEdges {
		t.Errorf("edge = %s, want both", e)
	}
	if cfg.PollInterval() != 2*time.Millisecond {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.Calibration.TicksPerCm != 4 {
		t.Errorf("ticks_per_cm = %v, want 4", cfg.Calibration.TicksPerCm)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("mqtt.broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	path := writeConfig(t, wheelsYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motor.PWMFrequencyHz != 100 {
		t.Errorf("pwm_frequency_hz default = %d, want 100", cfg.Motor.PWMFrequencyHz)
	}
	if cfg.Motor.DutyPercent != 10 {
		t.Errorf("duty_percent default = %v, want 10", cfg.Motor.DutyPercent)
	}
	if cfg.Motor.PollIntervalMs != 1 {
		t.Errorf("poll_interval_ms default = %d, want 1", cfg.Motor.PollIntervalMs)
	}
	if cfg.Motor.BusyPolicy != BusyReject {
		t.Errorf("busy_policy default = %q, want reject", cfg.Motor.BusyPolicy)
	}
	if cfg.Motor.TickStrategy != TicksReference {
		t.Errorf("tick_strategy default = %q, want reference", cfg.Motor.TickStrategy)
	}
	if w, _ := cfg.ReferenceWheel(); w != wheel.FrontRight {
		t.Errorf("reference wheel default = %s, want front_right", w)
	}
	if cfg.Calibration.TicksPerCm != 2 {
		t.Errorf("ticks_per_cm default = %v, want 2", cfg.Calibration.TicksPerCm)
	}
	if cfg.Encoder.GPIOChip != "gpiochip0" {
		t.Errorf("gpio_chip default = %q", cfg.Encoder.GPIOChip)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("mqtt should be disabled by default, broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoad_ExplicitZeroDutyKept(t *testing.T) {
	path := writeConfig(t, wheelsYAML+"motor:\n  duty_percent: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motor.DutyPercent != 0 {
		t.Errorf("duty_percent = %v, want explicit 0 kept", cfg.Motor.DutyPercent)
	}
}

func TestLoad_MissingPins(t *testing.T) {
	yaml := `
wheels:
  front_right: {ina_pin: 14, inb_pin: 15, pwm_pin: 18, encoder_pins: [9]}
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "front_left") {
		t.Errorf("expected error naming front_left, got %v", err)
	}
}

func TestLoad_DuplicatePin(t *testing.T) {
	yaml := strings.Replace(wheelsYAML, "encoder_pins: [6]", "encoder_pins: [9]", 1)
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "already used") {
		t.Errorf("expected duplicate pin error, got %v", err)
	}
}

func TestLoad_MissingEncoderPins(t *testing.T) {
	yaml := strings.Replace(wheelsYAML, ", encoder_pins: [11]", "", 1)
	path := writeConfig(t, yaml)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing encoder pins, got nil")
	}
}

func TestLoad_DutyOutOfRange(t *testing.T) {
	for _, duty := range []float64{-1, 100.5} {
		t.Run(fmt.Sprintf("%g", duty), func(t *testing.T) {
			path := writeConfig(t, wheelsYAML+"motor:\n  duty_percent: "+formatFloat(duty)+"\n")
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for duty_percent=%v, got nil", duty)
			}
		})
	}
}

func TestLoad_ZeroFrequency(t *testing.T) {
	path := writeConfig(t, wheelsYAML+"motor:\n  pwm_frequency_hz: 0\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for pwm_frequency_hz=0, got nil")
	}
}

func TestLoad_UnknownPolicyAndStrategy(t *testing.T) {
	cases := map[string]string{
		"policy":    "motor:\n  busy_policy: queue\n",
		"strategy":  "motor:\n  tick_strategy: median\n",
		"reference": "motor:\n  reference_wheel: middle\n",
		"edge":      "encoder:\n  edge: sideways\n",
	}
	for name, extra := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, wheelsYAML+extra)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestLoad_UnderivableCalibration(t *testing.T) {
	path := writeConfig(t, wheelsYAML+"calibration:\n  ticks_per_cm: 0\n  wheel_radius_mm: 0\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for underivable ticks_per_cm, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MECABOT_DUTY_PERCENT", "42.5")
	t.Setenv("MECABOT_BUSY_POLICY", "wait")
	t.Setenv("MECABOT_MOCK_GPIO", "true")
	t.Setenv("MECABOT_MQTT_BROKER", "tcp://broker:1883")

	path := writeConfig(t, wheelsYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Motor.DutyPercent != 42.5 {
		t.Errorf("duty_percent = %v, want 42.5 from env", cfg.Motor.DutyPercent)
	}
	if cfg.Motor.BusyPolicy != BusyWait {
		t.Errorf("busy_policy = %q, want wait from env", cfg.Motor.BusyPolicy)
	}
	if !cfg.Defaults.MockGPIO {
		t.Error("mock_gpio should be true from env")
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt.broker = %q", cfg.MQTT.Broker)
	}
}

func TestLoad_EnvOverrideValidated(t *testing.T) {
	t.Setenv("MECABOT_DUTY_PERCENT", "150")
	path := writeConfig(t, wheelsYAML)
	if _, err := Load(path); err == nil {
		t.Error("expected env override to be validated, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty config (wheel pins missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	path := writeConfig(t, wheelsYAML+"unknown_section:\n  foo: bar\n")
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_EncoderPinsCopied(t *testing.T) {
	cfg := &Config{Wheels: WheelsConfig{FrontRight: WheelConfig{EncoderPins: []int{9, 10}}}}
	pins := cfg.EncoderPins()
	if len(pins) != wheel.Count {
		t.Fatalf("EncoderPins() has %d wheels, want %d", len(pins), wheel.Count)
	}
	pins[wheel.FrontRight][0] = 99
	if cfg.Wheels.FrontRight.EncoderPins[0] != 9 {
		t.Error("EncoderPins() must return a copy")
	}
}

func TestConfig_PublishInterval(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{PublishIntervalMs: 250}}
	if got := cfg.PublishInterval(); got != 250*time.Millisecond {
		t.Errorf("PublishInterval() = %v, want 250ms", got)
	}
}

func TestWheelsConfig_Get(t *testing.T) {
	cfg := Default()
	cfg.Wheels.BackRight.PWMPin = 19
	if got := cfg.Wheels.Get(wheel.BackRight).PWMPin; got != 19 {
		t.Errorf("Get(back_right).PWMPin = %d, want 19", got)
	}
	if got := cfg.Wheels.Get(wheel.ID(9)); got.PWMPin != 0 {
		t.Errorf("Get(invalid) = %+v, want zero value", got)
	}
}

// formatFloat is a test helper for embedding floats into YAML strings.
func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}
