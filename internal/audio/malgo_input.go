package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoInput captures mono unsigned 8-bit audio through miniaudio.
type MalgoInput struct {
	cfg InputConfig
}

// NewMalgoInput creates a miniaudio-backed input.
func NewMalgoInput(cfg InputConfig) *MalgoInput {
	return &MalgoInput{cfg: cfg}
}

// malgoHandle is an open miniaudio capture device.
type malgoHandle struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	window *SampleWindow
	closed bool
}

// Open initializes a miniaudio context and starts a capture device.
func (m *MalgoInput) Open() (Handle, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, acquisitionError(ReasonUnavailable, fmt.Errorf("init malgo context: %w", err))
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		freeContext(ctx)
		return nil, acquisitionError(ReasonUnavailable, fmt.Errorf("enumerate capture devices: %w", err))
	}
	if len(infos) == 0 {
		freeContext(ctx)
		return nil, acquisitionError(ReasonNoDevice, ErrNoAudioDevice)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatU8
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = m.cfg.SampleRate
	if m.cfg.Device != "" {
		info, ok := findMalgoDevice(infos, m.cfg.Device)
		if !ok {
			freeContext(ctx)
			return nil, acquisitionError(ReasonNoDevice, fmt.Errorf("%w: %s", ErrNoAudioDevice, m.cfg.Device))
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	h := &malgoHandle{
		ctx:    ctx,
		window: NewSampleWindow(m.cfg.WindowSize),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			_, _ = h.window.Write(input)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, acquisitionError(classifyMalgoError(err), fmt.Errorf("init capture device: %w", err))
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		freeContext(ctx)
		return nil, acquisitionError(classifyMalgoError(err), fmt.Errorf("start capture device: %w", err))
	}
	h.device = device

	slog.Info("audio capture started", "backend", BackendMalgo, "device", m.cfg.Device, "sample_rate", m.cfg.SampleRate)
	return h, nil
}

// ReadBlock returns the newest n captured samples.
func (h *malgoHandle) ReadBlock(n int) SampleBlock {
	return h.window.Latest(n)
}

// Close stops the device and releases the miniaudio context.
func (h *malgoHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.device != nil {
		if err := h.device.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture device: %w", err))
		}
		h.device.Uninit()
	}
	if err := h.ctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("uninit malgo context: %w", err))
	}
	h.ctx.Free()
	return errors.Join(errs...)
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// findMalgoDevice matches a configured device by index ("capture-N") or name.
func findMalgoDevice(infos []malgo.DeviceInfo, device string) (malgo.DeviceInfo, bool) {
	for i, info := range infos {
		if device == malgoDeviceID(i) || strings.EqualFold(device, info.Name()) {
			return info, true
		}
	}
	return malgo.DeviceInfo{}, false
}

func malgoDeviceID(index int) string {
	return fmt.Sprintf("capture-%d", index)
}

// classifyMalgoError maps miniaudio result codes to acquisition reasons.
func classifyMalgoError(err error) AcquisitionReason {
	switch {
	case errors.Is(err, malgo.ErrAccessDenied):
		return ReasonPermissionDenied
	case errors.Is(err, malgo.ErrDoesNotExist), errors.Is(err, malgo.ErrNoDevice):
		return ReasonNoDevice
	default:
		return ReasonUnavailable
	}
}

// malgoDevices lists capture devices known to miniaudio.
func malgoDevices() ([]Device, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, Device{
			ID:        malgoDeviceID(i),
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
		})
	}
	return devices, nil
}
