// Package eventlog records meter, recording and report events in a JSON lines file.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// EventType represents the type of event.
type EventType string

// Meter event types.
const (
	MeterStarted EventType = "meter_started"
	MeterStopped EventType = "meter_stopped"
	MeterError   EventType = "meter_error"
)

// Recording event types.
const (
	RecordingStarted EventType = "recording_started"
	RecordingStopped EventType = "recording_stopped"
	RecordingReset   EventType = "recording_reset"
)

// Report event types.
const (
	ReportExported EventType = "report_exported"
	ReportUploaded EventType = "report_uploaded"
	UploadFailed   EventType = "upload_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"msg,omitempty"`
	Details   any       `json:"details,omitempty"`
}

// MeterDetails contains meter-specific event details.
type MeterDetails struct {
	Backend       string  `json:"backend,omitempty"`
	Device        string  `json:"device,omitempty"`
	CalibrationDB float64 `json:"calibration_db,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// RecordingDetails contains recording-specific event details.
type RecordingDetails struct {
	Samples        int   `json:"samples"`
	StepMultiplier int   `json:"step_multiplier,omitempty"`
	IntervalMs     int64 `json:"interval_ms,omitempty"`
}

// ReportDetails contains report-specific event details.
type ReportDetails struct {
	Filename   string `json:"filename,omitempty"`
	PreparedBy string `json:"prepared_by,omitempty"`
	Rows       int    `json:"rows"`
	S3Key      string `json:"s3_key,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Logger writes events to a JSON lines file. A nil *Logger discards events.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "dbmeter", "logs", fmt.Sprintf("%d", port), "dbmeter.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/dbmeter", fmt.Sprintf("%d", port), "dbmeter.jsonl")
	}
}

// NewLogger creates a new event logger at the specified path.
func NewLogger(filePath string) (*Logger, error) {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
	}, nil
}

// Log writes an event to the log file.
func (l *Logger) Log(event *Event) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	return l.encoder.Encode(event)
}

// LogMeter logs a meter event.
func (l *Logger) LogMeter(eventType EventType, details *MeterDetails) error {
	return l.Log(&Event{
		Type:    eventType,
		Details: details,
	})
}

// LogRecording logs a recording event for a session.
func (l *Logger) LogRecording(eventType EventType, sessionID string, details *RecordingDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// LogReport logs a report export or upload event.
func (l *Logger) LogReport(eventType EventType, sessionID string, details *ReportDetails) error {
	return l.Log(&Event{
		Type:      eventType,
		SessionID: sessionID,
		Details:   details,
	})
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll       TypeFilter = ""
	FilterMeter     TypeFilter = "meter"
	FilterRecording TypeFilter = "recording"
	FilterReport    TypeFilter = "report"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// ReadLast reads events from the log file with pagination support.
// Returns up to n events starting from offset, filtered by type, newest first.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	hasMore := false
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			hasMore = true
			break
		}
		events = append(events, event)
	}

	return events, hasMore, nil
}

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterMeter:
		return IsMeterEvent(t)
	case FilterRecording:
		return IsRecordingEvent(t)
	case FilterReport:
		return IsReportEvent(t)
	default:
		return true
	}
}

// IsMeterEvent returns true if the event type is a meter event.
func IsMeterEvent(t EventType) bool {
	return t == MeterStarted || t == MeterStopped || t == MeterError
}

// IsRecordingEvent returns true if the event type is a recording event.
func IsRecordingEvent(t EventType) bool {
	return t == RecordingStarted || t == RecordingStopped || t == RecordingReset
}

// IsReportEvent returns true if the event type is a report event.
func IsReportEvent(t EventType) bool {
	return t == ReportExported || t == ReportUploaded || t == UploadFailed
}
