// Package types provides shared type definitions used across the meter.
package types

import "time"

const (
	// ShutdownTimeout is the duration to wait for graceful shutdown.
	ShutdownTimeout = 3000 * time.Millisecond
	// StatusInterval is how often the status push is sent to WebSocket clients.
	StatusInterval = 1000 * time.Millisecond
)

// Message types pushed to WebSocket clients.
const (
	MessageReading = "reading"
	MessageSeries  = "series"
	MessageStatus  = "status"
)

// MeterStatus contains the meter and recording state.
type MeterStatus struct {
	State           string  `json:"state"`                // stopped or live
	Recording       string  `json:"recording"`            // idle or recording
	DB              float64 `json:"db,omitzero"`          // Latest reading
	HasReading      bool    `json:"has_reading"`          // A reading has been published since start
	Peak            float64 `json:"peak"`                 // Held peak
	Samples         int     `json:"samples"`              // Recorded samples
	SessionID       string  `json:"session_id,omitempty"` // Current recording series
	CalibrationDB   float64 `json:"calibration_db"`       // Calibration offset
	LastError       string  `json:"last_error,omitempty"` // Most recent acquisition error
	LastErrorHint   string  `json:"error_hint,omitempty"` // User-facing message for LastError
	MQTTConnected   bool    `json:"mqtt_connected"`       // Telemetry connection state
	S3Configured    bool    `json:"s3_configured"`        // Report upload available
	DefaultPreparer string  `json:"preparer,omitempty"`   // Default report preparer
}

// AudioDevice represents an available audio input device.
type AudioDevice struct {
	ID        string `json:"id"`                   // Device identifier
	Name      string `json:"name"`                 // Device display name
	IsDefault bool   `json:"is_default,omitempty"` // System default device
}

// WSStatusResponse is sent to clients with status updates.
type WSStatusResponse struct {
	Type        string        `json:"type"`         // Message type identifier
	StationName string        `json:"station_name"` // Station display name
	Meter       MeterStatus   `json:"meter"`        // Meter status
	Devices     []AudioDevice `json:"devices"`      // Available audio devices
	AudioInput  string        `json:"audio_input"`  // Selected audio input device
	Platform    string        `json:"platform"`     // Operating system platform
	Version     VersionInfo   `json:"version"`      // Version information
}

// WSReadingResponse is sent to clients with every published reading.
type WSReadingResponse struct {
	Type     string  `json:"type"`     // Message type identifier
	DB       float64 `json:"db"`       // Reading in dB
	Rotation float64 `json:"rotation"` // Gauge needle angle in degrees
	Peak     float64 `json:"peak"`     // Held peak in dB
}

// SeriesRow is one formatted recording row.
type SeriesRow struct {
	TimeStep string `json:"time_step"` // Time label
	DB       string `json:"db"`        // Reading to one decimal
}

// WSSeriesResponse is sent to clients after the recording changes.
type WSSeriesResponse struct {
	Type  string      `json:"type"`  // Message type identifier
	Rows  []SeriesRow `json:"rows"`  // All recorded rows
	Count int         `json:"count"` // Number of rows
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
}
