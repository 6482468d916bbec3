package schedule

import (
	"sync"
	"time"
)

// ManualFrames is a FrameScheduler that only runs frames when Fire is called.
// It lets callers step a frame loop deterministically.
type ManualFrames struct {
	mu       sync.Mutex
	pending  func()
	last     func()
	requests int
}

// RequestFrame records fn as the pending frame.
func (m *ManualFrames) RequestFrame(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = fn
	m.last = fn
	m.requests++
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.pending = nil
	}
}

// Fire runs the pending frame, if any, and reports whether one ran.
func (m *ManualFrames) Fire() bool {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// FireN runs up to n consecutive frames and returns how many ran.
func (m *ManualFrames) FireN(n int) int {
	ran := 0
	for range n {
		if !m.Fire() {
			break
		}
		ran++
	}
	return ran
}

// Pending reports whether a frame is scheduled.
func (m *ManualFrames) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Requests returns how many frames have been requested.
func (m *ManualFrames) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Last returns the most recently requested callback, even if it was cancelled.
func (m *ManualFrames) Last() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// ManualTimer is a Timer that only ticks when Fire is called.
type ManualTimer struct {
	mu       sync.Mutex
	fn       func()
	last     func()
	interval time.Duration
	armed    bool
}

// Every arms the timer with fn.
func (m *ManualTimer) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	m.last = fn
	m.interval = interval
	m.armed = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.armed = false
		m.fn = nil
	}
}

// Fire runs one tick if the timer is armed and reports whether it ran.
func (m *ManualTimer) Fire() bool {
	m.mu.Lock()
	fn := m.fn
	armed := m.armed
	m.mu.Unlock()
	if !armed || fn == nil {
		return false
	}
	fn()
	return true
}

// Armed reports whether the timer is running.
func (m *ManualTimer) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Interval returns the interval passed to the last Every call.
func (m *ManualTimer) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Last returns the most recently armed callback, even if it was cancelled.
func (m *ManualTimer) Last() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
