package encoder

import (
	"errors"
	"sync"
	"testing"

	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/wheel"
)

func testPins() map[wheel.ID][]int {
	return map[wheel.ID][]int{
		wheel.FrontRight: {9},
		wheel.FrontLeft:  {11},
		wheel.BackLeft:   {5},
		wheel.BackRight:  {6},
	}
}

func newTestEncoder(t *testing.T) (*Encoder, *gpio.MockDriver) {
	t.Helper()
	drv := &gpio.MockDriver{}
	enc := New(drv, Config{Pins: testPins(), Edge: gpio.RisingEdge})
	if err := enc.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return enc, drv
}

func TestEncoder_SetupConfiguresPullUpAndWatch(t *testing.T) {
	_, drv := newTestEncoder(t)

	for w, pins := range testPins() {
		for _, pin := range pins {
			mode, ok := drv.Mode(pin)
			if !ok || mode != gpio.InputPullUp {
				t.Errorf("%s pin %d mode = %v, want InputPullUp", w, pin, mode)
			}
			if drv.Watching(pin) != 1 {
				t.Errorf("%s pin %d has %d watches, want 1", w, pin, drv.Watching(pin))
			}
		}
	}
}

func TestEncoder_ResetThenRead(t *testing.T) {
	enc, drv := newTestEncoder(t)

	for _, pin := range []int{9, 11, 5, 6} {
		drv.Pulse(pin)
	}
	for _, w := range wheel.All() {
		if err := enc.Reset(w); err != nil {
			t.Fatalf("Reset(%s): %v", w, err)
		}
		n, err := enc.Read(w)
		if err != nil {
			t.Fatalf("Read(%s): %v", w, err)
		}
		if n != 0 {
			t.Errorf("Read(%s) after reset = %d, want 0", w, n)
		}
	}
}

func TestEncoder_PulsesCountPerWheel(t *testing.T) {
	enc, drv := newTestEncoder(t)

	for i := 0; i < 53; i++ {
		drv.Pulse(9)
	}
	drv.Pulse(6)

	if n, _ := enc.Read(wheel.FrontRight); n != 53 {
		t.Errorf("front_right = %d, want 53", n)
	}
	if n, _ := enc.Read(wheel.BackRight); n != 1 {
		t.Errorf("back_right = %d, want 1", n)
	}
	if n, _ := enc.Read(wheel.FrontLeft); n != 0 {
		t.Errorf("front_left = %d, want 0", n)
	}
}

func TestEncoder_ConcurrentEdgesAreExact(t *testing.T) {
	enc := New(&gpio.MockDriver{}, Config{Pins: testPins()})

	const perWorker = 5000
	const workers = 8

	var wg sync.WaitGroup
	for _, w := range wheel.All() {
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(w wheel.ID) {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					enc.OnEdge(w)
				}
			}(w)
		}
	}

	// Concurrent readers must never observe a decrease.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	for _, w := range wheel.All() {
		readers.Add(1)
		go func(w wheel.ID) {
			defer readers.Done()
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				n, _ := enc.Read(w)
				if n < last {
					t.Errorf("%s count went backwards: %d -> %d", w, last, n)
					return
				}
				last = n
			}
		}(w)
	}

	wg.Wait()
	close(stop)
	readers.Wait()

	for _, w := range wheel.All() {
		if n, _ := enc.Read(w); n != perWorker*workers {
			t.Errorf("%s = %d, want %d", w, n, perWorker*workers)
		}
	}
}

func TestEncoder_InvalidWheel(t *testing.T) {
	enc := New(&gpio.MockDriver{}, Config{Pins: testPins()})

	_, err := enc.Read(wheel.ID(4))
	var invalid wheel.InvalidError
	if !errors.As(err, &invalid) {
		t.Errorf("Read(4) error = %v, want wheel.InvalidError", err)
	}
	if err := enc.Reset(wheel.ID(-1)); err == nil {
		t.Error("Reset(-1) should fail")
	}

	// The increment path swallows bad input.
	enc.OnEdge(wheel.ID(12))
	for _, w := range wheel.All() {
		if n, _ := enc.Read(w); n != 0 {
			t.Errorf("%s = %d after invalid edge, want 0", w, n)
		}
	}
}

func TestEncoder_BothEdgesDoubleCount(t *testing.T) {
	drv := &gpio.MockDriver{}
	enc := New(drv, Config{Pins: map[wheel.ID][]int{wheel.FrontRight: {9, 10}}, Edge: gpio.BothEdges})
	if err := enc.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	drv.Pulse(9)
	drv.Pulse(10)
	if n, _ := enc.Read(wheel.FrontRight); n != 4 {
		t.Errorf("front_right = %d, want 4 (two channels, both edges)", n)
	}
}

func TestEncoder_AverageAndCounts(t *testing.T) {
	enc := New(&gpio.MockDriver{}, Config{})
	for i := 0; i < 10; i++ {
		enc.OnEdge(wheel.FrontRight)
	}
	for i := 0; i < 6; i++ {
		enc.OnEdge(wheel.BackLeft)
	}
	if got := enc.Average(); got != 4 {
		t.Errorf("Average() = %d, want 4", got)
	}
	counts := enc.Counts()
	if counts[wheel.FrontRight] != 10 || counts[wheel.BackLeft] != 6 || len(counts) != wheel.Count {
		t.Errorf("Counts() = %v", counts)
	}
	enc.ResetAll()
	if got := enc.Average(); got != 0 {
		t.Errorf("Average() after ResetAll = %d, want 0", got)
	}
}

func TestEncoder_EdgesSignal(t *testing.T) {
	enc := New(&gpio.MockDriver{}, Config{})
	enc.OnEdge(wheel.FrontLeft)
	enc.OnEdge(wheel.FrontLeft)

	select {
	case <-enc.Edges():
	default:
		t.Fatal("expected an edge notification")
	}
	select {
	case <-enc.Edges():
		t.Fatal("notifications should be coalesced")
	default:
	}
}

func TestEncoder_SetupFailureRollsBack(t *testing.T) {
	drv := &gpio.MockDriver{Fail: func(op string, pin int) error {
		if op == "watch" && pin == 5 {
			return errors.New("line busy")
		}
		return nil
	}}
	enc := New(drv, Config{Pins: testPins()})

	err := enc.Setup()
	if !errors.Is(err, gpio.ErrUnavailable) {
		t.Fatalf("Setup error = %v, want ErrUnavailable", err)
	}
	for _, pin := range []int{9, 11} {
		if drv.Watching(pin) != 0 {
			t.Errorf("pin %d still watched after failed setup", pin)
		}
	}
	if err := enc.Shutdown(); err != nil {
		t.Errorf("Shutdown after failed setup: %v", err)
	}
}

func TestEncoder_ShutdownIdempotent(t *testing.T) {
	enc, drv := newTestEncoder(t)
	if err := enc.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := enc.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if drv.Watching(9) != 0 {
		t.Error("watch should be released")
	}
	if err := enc.Setup(); err != nil {
		t.Errorf("Setup after Shutdown: %v", err)
	}
}

func TestEncoder_DoubleSetupRejected(t *testing.T) {
	enc, _ := newTestEncoder(t)
	if err := enc.Setup(); err == nil {
		t.Error("second Setup without Shutdown should fail")
	}
}
