package motion

import (
	"sync"
	"testing"
)

func TestLatch_AssertClear(t *testing.T) {
	var l Latch
	if l.Asserted() {
		t.Fatal("zero latch should be released")
	}
	l.Assert()
	l.Assert()
	if !l.Asserted() {
		t.Fatal("latch should be asserted")
	}
	l.Clear()
	if l.Asserted() {
		t.Fatal("latch should be released after Clear")
	}
}

func TestLatch_Toggle(t *testing.T) {
	var l Latch
	if !l.Toggle() {
		t.Error("first toggle should assert")
	}
	if l.Toggle() {
		t.Error("second toggle should release")
	}
}

func TestLatch_ConcurrentTogglesBalance(t *testing.T) {
	var l Latch
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Toggle()
		}()
	}
	wg.Wait()
	if l.Asserted() {
		t.Error("an even number of toggles should leave the latch released")
	}
}

func TestLatch_Nil(t *testing.T) {
	var l *Latch
	if l.Asserted() {
		t.Error("nil latch should never be asserted")
	}
}

func TestStopCondition_String(t *testing.T) {
	cases := map[string]StopCondition{
		"53 ticks on front_right": Ticks(0, 53),
		"12 ticks (average)":      AverageTicks(12),
		"1.5s":                    Timed(1500 * 1e6),
	}
	for want, c := range cases {
		if got := c.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
	if Timed(1).TickTargeted() || !AverageTicks(1).TickTargeted() {
		t.Error("TickTargeted mismatch")
	}
}
