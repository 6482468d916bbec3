// Package meter runs the live sound level loop and gates recording on it.
package meter

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/schedule"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Sentinel errors for meter operations.
var (
	// ErrNotLive is returned when recording is requested while the meter is stopped.
	ErrNotLive = errors.New("meter is not live")
	// ErrLive is returned when the input is changed while the meter is live.
	ErrLive = errors.New("stop the meter before changing the input")
)

// State is the meter state.
type State string

const (
	// StateStopped indicates no input is open.
	StateStopped State = "stopped"
	// StateLive indicates the frame loop is running.
	StateLive State = "live"
)

// Reading is one published level with its display attributes.
type Reading struct {
	DB       float64   `json:"db"`
	Peak     float64   `json:"peak"`
	Rotation float64   `json:"rotation"`
	Time     time.Time `json:"time"`
}

// Sink observes meter output. Methods are called with meter locks held and
// must return quickly without calling back into the Meter.
type Sink interface {
	// OnReading receives every published reading in sampling order.
	OnReading(r Reading)
	// OnSeries receives a snapshot of the recording after it changes.
	OnSeries(series recording.Series)
}

// Options configures a Meter.
type Options struct {
	Input  audio.Input
	Frames schedule.FrameScheduler
	Timer  schedule.Timer

	// CalibrationDB is added to the raw level. Zero selects the default.
	CalibrationDB float64
	// FFTSize determines the block length (FFTSize/2).
	FFTSize int
	// PeakHold is how long the displayed peak is held. Zero selects the default.
	PeakHold time.Duration
	// RecordInterval and StepMultiplier configure the recording session.
	RecordInterval time.Duration
	StepMultiplier int

	// Events receives meter and recording events. It may be nil.
	Events *eventlog.Logger
	// Backend and Device are reported in events.
	Backend string
	Device  string
}

// Meter pulls sample blocks once per frame and publishes calibrated readings.
// It is safe for concurrent use.
type Meter struct {
	mu          sync.Mutex
	state       State
	gen         uint64
	handle      audio.Handle
	cancelFrame func()
	lastErr     error

	input     audio.Input
	frames    schedule.FrameScheduler
	blockSize int
	events    *eventlog.Logger
	backend   string
	device    string

	recordInterval time.Duration
	stepMultiplier int

	calibration atomic.Uint64 // math.Float64bits
	current     atomic.Uint64 // math.Float64bits, NaN when no reading
	peak        *audio.PeakHolder

	sinksMu sync.RWMutex
	sinks   []Sink

	session *recording.Session
}

var nanBits = math.Float64bits(math.NaN())

// New creates a stopped meter.
func New(opts Options) *Meter {
	if opts.Frames == nil {
		opts.Frames = schedule.NewFrameClock(schedule.DefaultFrameRate)
	}
	if opts.Timer == nil {
		opts.Timer = schedule.NewIntervalTimer()
	}
	if opts.CalibrationDB == 0 {
		opts.CalibrationDB = audio.DefaultCalibrationDB
	}
	if opts.RecordInterval <= 0 {
		opts.RecordInterval = recording.DefaultInterval
	}
	if opts.StepMultiplier <= 0 {
		opts.StepMultiplier = recording.DefaultStepMultiplier
	}

	m := &Meter{
		state:     StateStopped,
		input:     opts.Input,
		frames:    opts.Frames,
		blockSize: audio.BlockSize(opts.FFTSize),
		events:    opts.Events,
		backend:   opts.Backend,
		device:    opts.Device,
		peak:      audio.NewPeakHolder(),

		recordInterval: opts.RecordInterval,
		stepMultiplier: opts.StepMultiplier,
	}
	if opts.PeakHold > 0 {
		m.peak.SetHoldDuration(opts.PeakHold)
	}
	m.calibration.Store(math.Float64bits(opts.CalibrationDB))
	m.current.Store(nanBits)
	m.session = recording.NewSession(recording.SessionConfig{
		Timer:          opts.Timer,
		Reading:        m.Current,
		Interval:       opts.RecordInterval,
		StepMultiplier: opts.StepMultiplier,
		OnChange:       m.publishSeries,
	})
	return m
}

// AddSink registers a sink for readings and series updates.
func (m *Meter) AddSink(s Sink) {
	m.sinksMu.Lock()
	defer m.sinksMu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Start opens the audio input and begins the frame loop.
// It is a no-op while live. Acquisition failures leave the meter stopped.
func (m *Meter) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateLive {
		return nil
	}

	handle, err := m.input.Open()
	if err != nil {
		details := &eventlog.MeterDetails{Backend: m.backend, Device: m.device, Error: err.Error()}
		var acqErr *audio.AcquisitionError
		if errors.As(err, &acqErr) {
			details.Reason = string(acqErr.Reason)
		}
		m.logEvent(eventlog.MeterError, details)
		slog.Error("failed to open audio input", "backend", m.backend, "error", err)
		m.lastErr = err
		return err
	}

	m.handle = handle
	m.lastErr = nil
	m.state = StateLive
	m.gen++
	m.current.Store(nanBits)
	m.peak.Reset()
	m.requestFrameLocked(m.gen)

	m.logEvent(eventlog.MeterStarted, &eventlog.MeterDetails{
		Backend:       m.backend,
		Device:        m.device,
		CalibrationDB: m.Calibration(),
	})
	slog.Info("meter started", "backend", m.backend, "block_size", m.blockSize)
	return nil
}

// Stop ends the frame loop, stops any recording and releases the input.
// It is a no-op while stopped. No reading is published after Stop returns.
func (m *Meter) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStopped {
		return nil
	}

	m.stopRecordingLocked()

	m.gen++
	if m.cancelFrame != nil {
		m.cancelFrame()
		m.cancelFrame = nil
	}
	m.state = StateStopped

	err := m.handle.Close()
	m.handle = nil

	m.logEvent(eventlog.MeterStopped, &eventlog.MeterDetails{Backend: m.backend, Device: m.device})
	slog.Info("meter stopped")
	return util.WrapError("close audio input", err)
}

// requestFrameLocked schedules the next cycle. Caller must hold m.mu.
func (m *Meter) requestFrameLocked(gen uint64) {
	m.cancelFrame = m.frames.RequestFrame(func() { m.tick(gen) })
}

// tick runs one sampling cycle.
func (m *Meter) tick(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLive || gen != m.gen {
		return
	}

	block := m.handle.ReadBlock(m.blockSize)
	if db, ok := audio.ComputeDecibels(block, m.Calibration()); ok {
		now := time.Now()
		m.current.Store(math.Float64bits(db))
		m.publishReading(Reading{
			DB:       db,
			Peak:     m.peak.Update(db, now),
			Rotation: audio.NeedleRotation(db),
			Time:     now,
		})
	}

	m.requestFrameLocked(gen)
}

func (m *Meter) publishReading(r Reading) {
	m.sinksMu.RLock()
	defer m.sinksMu.RUnlock()
	for _, s := range m.sinks {
		s.OnReading(r)
	}
}

func (m *Meter) publishSeries(series recording.Series) {
	m.sinksMu.RLock()
	defer m.sinksMu.RUnlock()
	for _, s := range m.sinks {
		s.OnSeries(series)
	}
}

// SetInput replaces the capture input. It fails with ErrLive while the
// meter is live.
func (m *Meter) SetInput(in audio.Input, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateLive {
		return ErrLive
	}
	m.input = in
	m.device = device
	return nil
}

// State returns the meter state.
func (m *Meter) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns the latest published reading. It reports false before the
// first finite reading after Start.
func (m *Meter) Current() (float64, bool) {
	db := math.Float64frombits(m.current.Load())
	if math.IsNaN(db) {
		return 0, false
	}
	return db, true
}

// Peak returns the held peak reading.
func (m *Meter) Peak() float64 {
	return m.peak.Peak()
}

// Calibration returns the calibration offset in dB.
func (m *Meter) Calibration() float64 {
	return math.Float64frombits(m.calibration.Load())
}

// SetCalibration changes the calibration offset used by subsequent cycles.
func (m *Meter) SetCalibration(db float64) {
	m.calibration.Store(math.Float64bits(db))
}

// --- Recording control ---

// StartRecording begins sampling readings into the series.
// It returns ErrNotLive while the meter is stopped and is a no-op while recording.
func (m *Meter) StartRecording() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateLive {
		return ErrNotLive
	}
	if m.session.Start() {
		m.logRecordingEvent(eventlog.RecordingStarted, m.session.ID())
		slog.Info("recording started", "session_id", m.session.ID())
	}
	return nil
}

// StopRecording stops sampling. It is a no-op while idle.
func (m *Meter) StopRecording() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRecordingLocked()
}

func (m *Meter) stopRecordingLocked() {
	if m.session.Stop() {
		m.logRecordingEvent(eventlog.RecordingStopped, m.session.ID())
		slog.Info("recording stopped", "session_id", m.session.ID(), "samples", m.session.Len())
	}
}

// ResetRecording clears the recorded series without changing any state.
func (m *Meter) ResetRecording() {
	id := m.session.ID()
	m.session.Reset()
	m.logRecordingEvent(eventlog.RecordingReset, id)
	slog.Info("recording reset", "session_id", id)
}

// RecordingState returns the recording state.
func (m *Meter) RecordingState() recording.State {
	return m.session.State()
}

// Series returns a snapshot of the recorded series.
func (m *Meter) Series() recording.Series {
	return m.session.Snapshot()
}

// SessionID returns the identifier of the current recording series.
func (m *Meter) SessionID() string {
	return m.session.ID()
}

func (m *Meter) logEvent(eventType eventlog.EventType, details *eventlog.MeterDetails) {
	if err := m.events.LogMeter(eventType, details); err != nil {
		slog.Warn("failed to write event log", "type", eventType, "error", err)
	}
}

func (m *Meter) logRecordingEvent(eventType eventlog.EventType, sessionID string) {
	err := m.events.LogRecording(eventType, sessionID, &eventlog.RecordingDetails{
		Samples:        m.session.Len(),
		StepMultiplier: m.stepMultiplier,
		IntervalMs:     m.recordInterval.Milliseconds(),
	})
	if err != nil {
		slog.Warn("failed to write event log", "type", eventType, "error", err)
	}
}

// Status is a point-in-time view of the meter and its recording.
type Status struct {
	State         State
	LastError     error
	Recording     recording.State
	Current       float64
	HasReading    bool
	Peak          float64
	Samples       int
	SessionID     string
	CalibrationDB float64
}

// Status returns the current meter status.
func (m *Meter) Status() Status {
	m.mu.Lock()
	state, lastErr := m.state, m.lastErr
	m.mu.Unlock()

	db, ok := m.Current()
	return Status{
		State:         state,
		LastError:     lastErr,
		Recording:     m.session.State(),
		Current:       db,
		HasReading:    ok,
		Peak:          m.Peak(),
		Samples:       m.session.Len(),
		SessionID:     m.session.ID(),
		CalibrationDB: m.Calibration(),
	}
}
