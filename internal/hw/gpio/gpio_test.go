package gpio

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestParseEdge(t *testing.T) {
	cases := []struct {
		in   string
		want Edge
	}{
		{"", RisingEdge},
		{"rising", RisingEdge},
		{"Falling", FallingEdge},
		{"both", BothEdges},
	}
	for _, tc := range cases {
		got, err := ParseEdge(tc.in)
		if err != nil {
			t.Errorf("ParseEdge(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseEdge(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if _, err := ParseEdge("sideways"); err == nil {
		t.Error("expected error for unknown edge")
	}
}

func TestMockDriver_ZeroValueUsable(t *testing.T) {
	m := &MockDriver{}
	if err := m.WritePin(5, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	if m.Level(5) != High {
		t.Error("level should be HIGH after write")
	}
}

func TestMockDriver_PulseInvokesHandlers(t *testing.T) {
	m := &MockDriver{}
	var rising, both atomic.Int32
	if err := m.WatchEdge(9, RisingEdge, func(int) { rising.Add(1) }); err != nil {
		t.Fatalf("WatchEdge: %v", err)
	}
	if err := m.WatchEdge(9, BothEdges, func(int) { both.Add(1) }); err != nil {
		t.Fatalf("WatchEdge: %v", err)
	}

	m.Pulse(9)
	m.Pulse(9)

	if rising.Load() != 2 {
		t.Errorf("rising handler called %d times, want 2", rising.Load())
	}
	if both.Load() != 4 {
		t.Errorf("both-edge handler called %d times, want 4", both.Load())
	}
}

func TestMockDriver_ReleaseDropsWatch(t *testing.T) {
	m := &MockDriver{}
	var n atomic.Int32
	_ = m.WatchEdge(9, RisingEdge, func(int) { n.Add(1) })
	if err := m.Release(9); err != nil {
		t.Fatalf("Release: %v", err)
	}
	m.Pulse(9)
	if n.Load() != 0 {
		t.Errorf("handler called after release")
	}
	if m.Watching(9) != 0 {
		t.Errorf("Watching(9) = %d, want 0", m.Watching(9))
	}
}

func TestMockDriver_PWM(t *testing.T) {
	m := &MockDriver{}
	if err := m.SetDuty(18, 50); err == nil {
		t.Error("SetDuty before StartPWM should fail")
	}
	if err := m.StartPWM(18, 100); err != nil {
		t.Fatalf("StartPWM: %v", err)
	}
	if d, ok := m.Duty(18); !ok || d != 0 {
		t.Errorf("duty after start = %v (running=%v), want 0 running", d, ok)
	}
	if err := m.SetDuty(18, 42.5); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if d, _ := m.Duty(18); d != 42.5 {
		t.Errorf("duty = %v, want 42.5", d)
	}
	if err := m.StopPWM(18); err != nil {
		t.Fatalf("StopPWM: %v", err)
	}
	if _, ok := m.Duty(18); ok {
		t.Error("PWM should not be running after StopPWM")
	}
	if err := m.StartPWM(18, 0); err == nil {
		t.Error("StartPWM with 0 Hz should fail")
	}
}

func TestMockDriver_FailHook(t *testing.T) {
	busy := errors.New("device or resource busy")
	m := &MockDriver{Fail: func(op string, pin int) error {
		if op == "pwm" && pin == 13 {
			return busy
		}
		return nil
	}}

	err := m.StartPWM(13, 100)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, busy) {
		t.Errorf("error should wrap the cause, got %v", err)
	}
	var re *ResourceError
	if !errors.As(err, &re) || re.Pin != 13 || re.Op != "pwm" {
		t.Errorf("ResourceError = %+v, want op=pwm pin=13", re)
	}

	if err := m.StartPWM(12, 100); err != nil {
		t.Errorf("other pins should not fail: %v", err)
	}
}

func TestMockDriver_PullUpReadsHigh(t *testing.T) {
	m := &MockDriver{}
	_ = m.SetupPin(11, InputPullUp)
	lvl, err := m.ReadPin(11)
	if err != nil {
		t.Fatalf("ReadPin: %v", err)
	}
	if lvl != High {
		t.Error("pulled-up input should idle HIGH")
	}
}

func TestResourceError_Message(t *testing.T) {
	err := &ResourceError{Op: "open", Pin: -1, Err: errors.New("no gpiomem")}
	if got := err.Error(); got != "gpio open: no gpiomem" {
		t.Errorf("Error() = %q", got)
	}
	err = &ResourceError{Op: "pwm", Pin: 18, Err: errors.New("busy")}
	if got := err.Error(); got != "gpio pwm pin 18: busy" {
		t.Errorf("Error() = %q", got)
	}
}
