package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/config"
	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
)

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg   *config.Config
	meter *meter.Meter
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, m *meter.Meter) *CommandHandler {
	return &CommandHandler{
		cfg:   cfg,
		meter: m,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "meter/start", "recording/reset")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	namespace, action, _ := strings.Cut(cmd.Type, "/")

	switch namespace {
	case "meter":
		h.handleMeter(action, cmd, send)
	case "recording":
		h.handleRecording(action, cmd, send)
	case "settings":
		h.handleSettings(action, cmd, send)
	case "report":
		h.handleReport(action, cmd, send)
	case "status":
		h.handleStatus(action, send)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleMeter routes meter/* commands
func (h *CommandHandler) handleMeter(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		if err := h.meter.Start(); err != nil {
			SendError(send, cmd.Type, UserError(err))
			return
		}
		SendSuccess(send, cmd.Type, nil)
	case "stop":
		if err := h.meter.Stop(); err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown meter action", "action", action)
	}
}

// handleRecording routes recording/* commands
func (h *CommandHandler) handleRecording(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "start":
		if err := h.meter.StartRecording(); err != nil {
			SendError(send, cmd.Type, err)
			return
		}
		SendSuccess(send, cmd.Type, nil)
	case "stop":
		h.meter.StopRecording()
		SendSuccess(send, cmd.Type, nil)
	case "reset":
		h.meter.ResetRecording()
		SendSuccess(send, cmd.Type, nil)
	case "get":
		SendData(send, SeriesMessage(h.meter.Series()))
	default:
		slog.Warn("unknown recording action", "action", action)
	}
}

// handleSettings routes settings/* commands
func (h *CommandHandler) handleSettings(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		h.handleSettingsUpdate(cmd, send)
	case "regenerate-key":
		h.handleRegenerateAPIKey(cmd, send)
	default:
		slog.Warn("unknown settings action", "action", action)
	}
}

// handleReport routes report/* commands
func (h *CommandHandler) handleReport(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test-s3":
		h.handleTestS3(cmd, send)
	default:
		slog.Warn("unknown report action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string, send chan<- any) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

// --- Settings handlers ---

// handleSettingsUpdate processes a settings/update command.
func (h *CommandHandler) handleSettingsUpdate(cmd WSCommand, send chan<- any) {
	HandleCommand(h, cmd, send, func(req *SettingsUpdateRequest) error {
		if req.Input != nil {
			if err := h.changeInput(*req.Input); err != nil {
				return err
			}
		}
		if req.CalibrationDB != nil {
			if err := h.cfg.SetCalibration(*req.CalibrationDB); err != nil {
				return err
			}
			h.meter.SetCalibration(*req.CalibrationDB)
			slog.Info("settings/update: calibration changed", "calibration_db", *req.CalibrationDB)
		}
		if req.Preparer != nil {
			if err := h.cfg.SetPreparer(strings.TrimSpace(*req.Preparer)); err != nil {
				return err
			}
		}
		return nil
	})
}

// changeInput swaps the meter input before persisting the new device.
func (h *CommandHandler) changeInput(device string) error {
	snap := h.cfg.Snapshot()
	if device == snap.AudioInput {
		return nil
	}

	inputCfg := snap.AudioInputConfig()
	inputCfg.Device = device
	in, err := audio.NewInput(inputCfg)
	if err != nil {
		return err
	}
	if err := h.meter.SetInput(in, device); err != nil {
		return err
	}

	slog.Info("settings/update: changing audio input", "input", device)
	return h.cfg.SetAudioInput(device)
}

// handleRegenerateAPIKey processes a settings/regenerate-key command.
func (h *CommandHandler) handleRegenerateAPIKey(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		newKey, err := config.GenerateAPIKey()
		if err != nil {
			return nil, err
		}

		if err := h.cfg.SetAPIKey(newKey); err != nil {
			return nil, err
		}

		slog.Info("API key regenerated")

		return map[string]string{"api_key": newKey}, nil
	})
}

// --- Report handlers ---

// handleTestS3 processes a report/test-s3 command against the configured bucket.
func (h *CommandHandler) handleTestS3(cmd WSCommand, send chan<- any) {
	HandleActionAsync(cmd, send, func() (any, error) {
		snap := h.cfg.Snapshot()
		uploader, err := report.NewUploader(snap.S3)
		if err != nil {
			return nil, err
		}
		if err := uploader.TestConnection(context.Background()); err != nil {
			slog.Error("report/test-s3: connection test failed", "error", err)
			return nil, err
		}
		slog.Info("report/test-s3: connection test succeeded", "bucket", snap.S3.Bucket)
		return nil, nil
	})
}

// UserError replaces an acquisition failure with its user-facing message.
func UserError(err error) error {
	var acqErr *audio.AcquisitionError
	if errors.As(err, &acqErr) {
		return errors.New(acqErr.UserMessage())
	}
	return err
}
