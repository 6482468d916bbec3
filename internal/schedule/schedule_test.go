package schedule

import (
	"sync/atomic"
	"testing"
	"time"
)

// --- Real schedulers ---

func TestFrameClockPeriod(t *testing.T) {
	if got := NewFrameClock(50).Period(); got != 20*time.Millisecond {
		t.Errorf("Period = %v, want 20ms", got)
	}
	if got := NewFrameClock(0).Period(); got != time.Second/DefaultFrameRate {
		t.Errorf("Period(0) = %v, want default", got)
	}
}

func TestFrameClockRunsOnce(t *testing.T) {
	c := NewFrameClock(1000)
	done := make(chan struct{})
	c.RequestFrame(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("frame did not run")
	}
}

func TestFrameClockCancel(t *testing.T) {
	c := &FrameClock{period: 50 * time.Millisecond}
	var ran atomic.Bool
	cancel := c.RequestFrame(func() { ran.Store(true) })
	cancel()
	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Error("cancelled frame ran")
	}
}

func TestIntervalTimerTicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int32
	cancel := NewIntervalTimer().Every(5*time.Millisecond, func() { ticks.Add(1) })

	deadline := time.Now().Add(time.Second)
	for ticks.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	cancel() // second cancel is a no-op

	if ticks.Load() < 3 {
		t.Fatalf("ticks = %d, want >= 3", ticks.Load())
	}
	time.Sleep(20 * time.Millisecond)
	settled := ticks.Load()
	time.Sleep(30 * time.Millisecond)
	if got := ticks.Load(); got != settled {
		t.Errorf("ticks after cancel = %d, want %d", got, settled)
	}
}

// --- Manual schedulers ---

func TestManualFramesReRegistration(t *testing.T) {
	var m ManualFrames
	count := 0
	var loop func()
	loop = func() {
		count++
		if count < 3 {
			m.RequestFrame(loop)
		}
	}
	m.RequestFrame(loop)

	if ran := m.FireN(10); ran != 3 {
		t.Errorf("FireN = %d, want 3", ran)
	}
	if m.Pending() {
		t.Error("Pending = true after loop ended")
	}
	if got := m.Requests(); got != 3 {
		t.Errorf("Requests = %d, want 3", got)
	}
}

func TestManualFramesCancel(t *testing.T) {
	var m ManualFrames
	cancel := m.RequestFrame(func() { t.Error("cancelled frame ran") })
	cancel()
	if m.Fire() {
		t.Error("Fire after cancel = true, want false")
	}
	if m.Last() == nil {
		t.Error("Last = nil, want cancelled callback")
	}
}

func TestManualTimer(t *testing.T) {
	var m ManualTimer
	ticks := 0
	cancel := m.Every(time.Second, func() { ticks++ })

	m.Fire()
	m.Fire()
	if ticks != 2 {
		t.Errorf("ticks = %d, want 2", ticks)
	}
	if got := m.Interval(); got != time.Second {
		t.Errorf("Interval = %v, want 1s", got)
	}

	cancel()
	if m.Armed() {
		t.Error("Armed after cancel = true")
	}
	if m.Fire() {
		t.Error("Fire after cancel = true, want false")
	}
	if ticks != 2 {
		t.Errorf("ticks after cancel = %d, want 2", ticks)
	}
}
