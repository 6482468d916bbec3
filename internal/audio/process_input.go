package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for raw U8 mono capture.
	BuildArgs func(device string, sampleRate uint32) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it attempts to use the default or auto-detect.
// The ffmpegPath parameter is used on platforms that use FFmpeg for capture.
func BuildCaptureCommand(device, ffmpegPath string, sampleRate uint32) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device, sampleRate), nil
}

func formatRate(sampleRate uint32) string {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	return strconv.FormatUint(uint64(sampleRate), 10)
}

// ProcessInput captures audio by reading raw PCM from arecord or ffmpeg.
type ProcessInput struct {
	cfg InputConfig
}

// NewProcessInput creates an input backed by an external capture process.
func NewProcessInput(cfg InputConfig) *ProcessInput {
	return &ProcessInput{cfg: cfg}
}

// processHandle is a running capture process.
type processHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	window *SampleWindow
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Open starts the capture process and begins filling the sample window.
func (p *ProcessInput) Open() (Handle, error) {
	ffmpegPath := util.ResolveFFmpegPath(p.cfg.FFmpegPath)
	command, args, err := BuildCaptureCommand(p.cfg.Device, ffmpegPath, p.cfg.SampleRate)
	if err != nil {
		return nil, acquisitionError(ReasonNoDevice, err)
	}

	cmd := exec.Command(command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, acquisitionError(ReasonUnavailable, util.WrapError("create stdout pipe", err))
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, acquisitionError(ReasonUnavailable, util.WrapError("create stdin pipe", err))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		reason := ReasonUnavailable
		if errors.Is(err, exec.ErrNotFound) {
			err = fmt.Errorf("%s not found: %w", command, err)
		}
		return nil, acquisitionError(reason, util.WrapError("start capture process", err))
	}

	h := &processHandle{
		cmd:    cmd,
		stdin:  stdin,
		stderr: &stderr,
		window: NewSampleWindow(p.cfg.WindowSize),
		done:   make(chan struct{}),
	}
	go h.pump(stdout)

	slog.Info("audio capture started", "backend", BackendProcess, "command", command, "device", p.cfg.Device)
	return h, nil
}

// pump copies process output into the sample window until EOF.
func (h *processHandle) pump(stdout io.Reader) {
	defer close(h.done)
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			_, _ = h.window.Write(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("capture read ended", "error", err)
			}
			return
		}
	}
}

// ReadBlock returns the newest n captured samples.
func (h *processHandle) ReadBlock(n int) SampleBlock {
	return h.window.Latest(n)
}

// Close stops the capture process and waits for it to exit.
func (h *processHandle) Close() error {
	h.closeOnce.Do(func() {
		var errs []error
		if err := util.StopProcess(h.cmd.Process, h.stdin); err != nil {
			errs = append(errs, util.WrapError("signal capture process", err))
		}
		<-h.done
		if err := h.cmd.Wait(); err != nil && !isExpectedExit(err) {
			msg := util.ExtractLastError(h.stderr.String())
			if msg != "" {
				err = fmt.Errorf("%w: %s", err, msg)
			}
			errs = append(errs, util.WrapError("wait for capture process", err))
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// isExpectedExit reports whether err is the result of our own stop signal.
func isExpectedExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return strings.Contains(exitErr.Error(), "signal") || exitErr.ExitCode() == 1 || exitErr.ExitCode() == 255
}
