package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(1500 * time.Millisecond)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", got)
	}

	c.Set(start.Add(time.Minute))
	if got := c.Now().Sub(start); got != time.Minute {
		t.Errorf("elapsed after Set = %v, want 1m", got)
	}
}

func TestRealIsMonotonic(t *testing.T) {
	var c Clock = Real{}
	a := c.Now()
	b := c.Now()
	if b.Sub(a) < 0 {
		t.Errorf("Real clock went backwards: %v", b.Sub(a))
	}
}
