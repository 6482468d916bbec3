// Package schedule provides the frame and interval callbacks that drive the meter.
package schedule

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultFrameRate approximates a display refresh rate.
const DefaultFrameRate = 60

// FrameScheduler calls a function once at the next frame.
// Callers re-register every cycle to keep receiving frames.
type FrameScheduler interface {
	// RequestFrame schedules fn and returns a func that cancels it if it has not run yet.
	RequestFrame(fn func()) (cancel func())
}

// Timer calls a function repeatedly on a fixed interval.
type Timer interface {
	// Every schedules fn every interval until the returned cancel func is called.
	Every(interval time.Duration, fn func()) (cancel func())
}

// FrameClock is a FrameScheduler backed by time.AfterFunc.
type FrameClock struct {
	period time.Duration
}

// NewFrameClock returns a frame clock ticking at rate frames per second.
func NewFrameClock(rate int) *FrameClock {
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	return &FrameClock{period: time.Second / time.Duration(rate)}
}

// Period returns the time between frames.
func (c *FrameClock) Period() time.Duration {
	return c.period
}

// RequestFrame runs fn on its own goroutine after one frame period.
func (c *FrameClock) RequestFrame(fn func()) func() {
	t := time.AfterFunc(c.period, fn)
	return func() { t.Stop() }
}

// IntervalTimer is a Timer backed by time.Ticker.
type IntervalTimer struct{}

// NewIntervalTimer returns a ticker-based timer.
func NewIntervalTimer() *IntervalTimer {
	return &IntervalTimer{}
}

// Every runs fn on a dedicated goroutine once per interval.
// The returned cancel func does not wait for an in-flight fn to return.
func (IntervalTimer) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stopCh := make(chan struct{})
	var once sync.Once

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in interval timer", "panic", r)
			}
		}()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				select {
				case <-stopCh:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(stopCh)
		})
	}
}
