package audio

import (
	"errors"
	"fmt"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// Input opens audio streams. Implementations must be safe to call from any goroutine.
type Input interface {
	// Open acquires the capture hardware. Failures are returned as *AcquisitionError.
	Open() (Handle, error)
}

// Handle is an open audio stream.
type Handle interface {
	// ReadBlock returns the most recent n samples. It returns fewer (or none)
	// when capture has not produced enough data yet.
	ReadBlock(n int) SampleBlock
	// Close releases the capture hardware.
	Close() error
}

// AcquisitionReason classifies why an input could not be opened.
type AcquisitionReason string

const (
	// ReasonPermissionDenied indicates the OS refused access to the microphone.
	ReasonPermissionDenied AcquisitionReason = "permission_denied"
	// ReasonNoDevice indicates no capture device exists.
	ReasonNoDevice AcquisitionReason = "no_device"
	// ReasonUnavailable indicates the capture backend could not be started.
	ReasonUnavailable AcquisitionReason = "unavailable"
)

// AcquisitionError is returned when an audio input cannot be opened.
type AcquisitionError struct {
	Reason AcquisitionReason
	Err    error
}

// Error implements the error interface.
func (e *AcquisitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("could not access the microphone (%s)", e.Reason)
	}
	return fmt.Sprintf("could not access the microphone (%s): %v", e.Reason, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// UserMessage returns a short explanation suitable for display.
func (e *AcquisitionError) UserMessage() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Could not access the microphone. Please grant permission to use it."
	case ReasonNoDevice:
		return "Could not access the microphone. No capture device was found."
	default:
		return "Could not access the microphone. The audio backend failed to start."
	}
}

// acquisitionError wraps err unless it already is an *AcquisitionError.
func acquisitionError(reason AcquisitionReason, err error) error {
	if errors.Is(err, ErrNoAudioDevice) {
		reason = ReasonNoDevice
	}
	var acqErr *AcquisitionError
	if errors.As(err, &acqErr) {
		return err
	}
	return &AcquisitionError{Reason: reason, Err: err}
}

// Backend names a capture implementation.
type Backend string

const (
	// BackendMalgo captures through miniaudio.
	BackendMalgo Backend = "malgo"
	// BackendProcess captures through arecord or ffmpeg.
	BackendProcess Backend = "process"
)

// InputConfig selects and configures a capture backend.
type InputConfig struct {
	Backend    Backend
	Device     string
	SampleRate uint32
	FFmpegPath string
	// WindowSize is how many recent samples are retained for ReadBlock.
	WindowSize int
}

// DefaultSampleRate is the capture sample rate in Hz.
const DefaultSampleRate = 48000

// NewInput returns the Input for cfg.Backend.
func NewInput(cfg InputConfig) (Input, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultFFTSize
	}
	switch cfg.Backend {
	case BackendMalgo, "":
		return NewMalgoInput(cfg), nil
	case BackendProcess:
		return NewProcessInput(cfg), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}
