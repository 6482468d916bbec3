package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
}

// --- Loading ---

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	s := cfg.Snapshot()
	if s.WebPort != DefaultWebPort {
		t.Errorf("WebPort = %d, want %d", s.WebPort, DefaultWebPort)
	}
	if s.CalibrationDB != audio.DefaultCalibrationDB {
		t.Errorf("CalibrationDB = %v, want %v", s.CalibrationDB, audio.DefaultCalibrationDB)
	}
	if s.RecordInterval != time.Second {
		t.Errorf("RecordInterval = %v, want 1s", s.RecordInterval)
	}
	if s.StepMultiplier != 20 {
		t.Errorf("StepMultiplier = %d, want 20", s.StepMultiplier)
	}
	if s.FFTSize != audio.DefaultFFTSize {
		t.Errorf("FFTSize = %d, want %d", s.FFTSize, audio.DefaultFFTSize)
	}
	if s.AudioBackend != audio.BackendMalgo {
		t.Errorf("AudioBackend = %q, want %q", s.AudioBackend, audio.BackendMalgo)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
  "system": {"port": 9090},
  "meter": {"calibration_db": 94.5, "fft_size": 2048},
  "recording": {"interval_ms": 500, "step_multiplier": 1},
  "report": {"preparer": "Studio"}
}`)

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := cfg.Snapshot()
	if s.WebPort != 9090 {
		t.Errorf("WebPort = %d, want 9090", s.WebPort)
	}
	if s.CalibrationDB != 94.5 {
		t.Errorf("CalibrationDB = %v, want 94.5", s.CalibrationDB)
	}
	if s.FFTSize != 2048 {
		t.Errorf("FFTSize = %d, want 2048", s.FFTSize)
	}
	if s.RecordInterval != 500*time.Millisecond || s.StepMultiplier != 1 {
		t.Errorf("recording = (%v, %d), want (500ms, 1)", s.RecordInterval, s.StepMultiplier)
	}
	if s.Preparer != "Studio" {
		t.Errorf("Preparer = %q, want Studio", s.Preparer)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
audio:
  backend: process
  input: hw:1,0
meter:
  calibration_db: 100
telemetry:
  mqtt:
    broker: tcp://localhost:1883
    topic: studio/meter
`)

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := cfg.Snapshot()
	if s.AudioBackend != audio.BackendProcess || s.AudioInput != "hw:1,0" {
		t.Errorf("audio = (%q, %q), want (process, hw:1,0)", s.AudioBackend, s.AudioInput)
	}
	if s.CalibrationDB != 100 {
		t.Errorf("CalibrationDB = %v, want 100", s.CalibrationDB)
	}
	if !s.HasMQTT() || s.MQTT.Topic != "studio/meter" {
		t.Errorf("MQTT = %+v, want broker and topic set", s.MQTT)
	}
	if s.MQTT.ClientID != DefaultMQTTClientID {
		t.Errorf("MQTT.ClientID = %q, want default", s.MQTT.ClientID)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"calibration too high", `{"meter": {"calibration_db": 150}}`, "calibration_db"},
		{"negative step", `{"recording": {"step_multiplier": -1}}`, "step_multiplier"},
		{"bad backend", `{"audio": {"backend": "pulse"}}`, "backend"},
		{"bad color", `{"web": {"color_light": "red"}}`, "color_light"},
		{"wildcard topic", `{"telemetry": {"mqtt": {"topic": "meter/#"}}}`, "topic"},
		{"output dir traversal", `{"report": {"output_dir": "../reports"}}`, "output_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			writeFile(t, path, tt.content)
			err := New(path).Load()
			if err == nil {
				t.Fatal("Load() succeeded, want validation error")
			}
			if !strings.Contains(strings.ReplaceAll(err.Error(), "_", ""), strings.ReplaceAll(tt.field, "_", "")) {
				t.Errorf("Load() error = %q, want mention of %s", err, tt.field)
			}
		})
	}
}

func TestZeroCalibrationUsesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"meter": {"calibration_db": 0}}`)
	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Snapshot().CalibrationDB; got != audio.DefaultCalibrationDB {
		t.Errorf("CalibrationDB = %v, want %v", got, audio.DefaultCalibrationDB)
	}
}

// --- Environment overrides ---

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{"system": {"api_key": "file-key-0123456789"}}`)
	writeFile(t, filepath.Join(dir, ".env"), "DBMETER_S3_SECRET_ACCESS_KEY=from-dotenv\nDBMETER_API_KEY=dotenv-key\n")
	t.Setenv(EnvAPIKey, "env-key")
	t.Setenv(EnvPort, "9191")

	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	s := cfg.Snapshot()
	if s.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want env-key (process env wins over .env)", s.APIKey)
	}
	if s.WebPort != 9191 {
		t.Errorf("WebPort = %d, want 9191", s.WebPort)
	}
	if s.S3.SecretAccessKey != "from-dotenv" {
		t.Errorf("S3.SecretAccessKey = %q, want from-dotenv", s.S3.SecretAccessKey)
	}

	// Overrides are never persisted.
	if err := cfg.SetPreparer("Jan"); err != nil {
		t.Fatalf("SetPreparer() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, leaked := range []string{"env-key", "from-dotenv", "9191"} {
		if strings.Contains(string(data), leaked) {
			t.Errorf("saved config contains override %q", leaked)
		}
	}
}

// --- Setters ---

func TestSetCalibration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg := New(path)
	if err := cfg.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, db := range []float64{141, 0, -5} {
		if err := cfg.SetCalibration(db); err == nil {
			t.Errorf("SetCalibration(%v) succeeded, want error", db)
		}
	}

	for _, db := range []float64{85.5, 0.5, 140} {
		if err := cfg.SetCalibration(db); err != nil {
			t.Fatalf("SetCalibration(%v) error = %v", db, err)
		}

		reloaded := New(path)
		if err := reloaded.Load(); err != nil {
			t.Fatalf("reload error = %v", err)
		}
		if got := reloaded.Snapshot().CalibrationDB; got != db {
			t.Errorf("CalibrationDB after reload = %v, want %v", got, db)
		}
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	b, _ := GenerateAPIKey()
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
	if a == b {
		t.Error("GenerateAPIKey() returned the same key twice")
	}
}
