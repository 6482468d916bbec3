package recording

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/schedule"
)

// ReadingFunc returns the latest published reading and whether one is available.
type ReadingFunc func() (float64, bool)

// SessionConfig configures a Session.
type SessionConfig struct {
	// Timer drives sampling ticks.
	Timer schedule.Timer
	// Reading supplies the value sampled on each tick.
	Reading ReadingFunc
	// Interval is the time between ticks.
	Interval time.Duration
	// StepMultiplier is added to the time label for each recorded sample.
	StepMultiplier int
	// OnChange receives a snapshot after every append and reset.
	// It runs with the session lock held and must not call back into the Session.
	OnChange func(Series)
}

// Session samples the latest reading into a Series on a fixed cadence.
// It is safe for concurrent use.
type Session struct {
	mu sync.Mutex

	timer          schedule.Timer
	reading        ReadingFunc
	interval       time.Duration
	stepMultiplier int
	onChange       func(Series)

	state  State
	gen    uint64
	cancel func()
	index  int
	series Series
	id     string
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StepMultiplier <= 0 {
		cfg.StepMultiplier = DefaultStepMultiplier
	}
	if cfg.Timer == nil {
		cfg.Timer = schedule.NewIntervalTimer()
	}
	return &Session{
		timer:          cfg.Timer,
		reading:        cfg.Reading,
		interval:       cfg.Interval,
		stepMultiplier: cfg.StepMultiplier,
		onChange:       cfg.OnChange,
		state:          StateIdle,
	}
}

// Start arms the sampling timer and reports whether the session was idle.
// The sequence index restarts from the current series length, so labels keep
// increasing when a stopped session is resumed without a reset.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRecording {
		return false
	}
	s.state = StateRecording
	s.gen++
	s.index = len(s.series)
	if s.id == "" {
		s.id = uuid.New().String()
	}

	gen := s.gen
	s.cancel = s.timer.Every(s.interval, func() { s.tick(gen) })

	slog.Debug("recording session started", "session_id", s.id, "interval", s.interval, "step_multiplier", s.stepMultiplier)
	return true
}

// Stop disarms the timer and reports whether the session was recording.
// No sample is appended after Stop returns.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return false
	}
	s.state = StateIdle
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	slog.Debug("recording session stopped", "session_id", s.id, "samples", len(s.series))
	return true
}

// Reset clears the series and sequence index. It does not change the state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = nil
	s.index = 0
	s.id = ""
	if s.state == StateRecording {
		s.id = uuid.New().String()
	}
	s.notifyLocked()
}

// tick samples the current reading into the series.
func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording || gen != s.gen {
		return
	}

	db, ok := s.reading()
	if !ok || !audio.IsValidReading(db) {
		return
	}

	s.series = append(s.series, RecordedSample{
		TimeStep: s.index * s.stepMultiplier,
		Decibels: audio.RoundTenth(db),
	})
	s.index++
	s.notifyLocked()
}

func (s *Session) notifyLocked() {
	if s.onChange != nil {
		s.onChange(slices.Clone(s.series))
	}
}

// State returns the current recording state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the recorded series.
func (s *Session) Snapshot() Series {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.series)
}

// Len returns the number of recorded samples.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series)
}

// ID returns the identifier of the current series, or "" before the first start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}
