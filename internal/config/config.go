// Package config provides application configuration management.
package config

import (
	"cmp"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort           = 8080
	DefaultStationName       = "ZuidWest FM"
	DefaultStationColorLight = "#E6007E"
	DefaultStationColorDark  = "#E6007E"
	DefaultFrameRate         = 60
	DefaultPeakHoldMs        = 3000
	DefaultMQTTClientID      = "zwfm-dbmeter"
	DefaultMQTTTopic         = "dbmeter"
	DefaultMQTTIntervalMs    = 1000
)

// Environment variables that override file values. They are read at Load
// from the process environment and an optional .env file next to the config.
const (
	EnvPort              = "DBMETER_PORT"
	EnvAPIKey            = "DBMETER_API_KEY"
	EnvS3AccessKeyID     = "DBMETER_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey = "DBMETER_S3_SECRET_ACCESS_KEY"
	EnvMQTTBroker        = "DBMETER_MQTT_BROKER"
	EnvMQTTPassword      = "DBMETER_MQTT_PASSWORD"
)

// stationNamePattern matches printable station names.
var stationNamePattern = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	Port   int    `json:"port" yaml:"port" validate:"min=1,max=65535"`        // HTTP server port
	APIKey string `json:"api_key" yaml:"api_key" validate:"omitempty,min=16"` // Optional X-API-Key for the REST API
}

// WebConfig holds station branding settings.
type WebConfig struct {
	StationName string `json:"station_name" yaml:"station_name" validate:"required,max=30"`
	ColorLight  string `json:"color_light" yaml:"color_light" validate:"hexcolor,len=7"`
	ColorDark   string `json:"color_dark" yaml:"color_dark" validate:"hexcolor,len=7"`
}

// AudioConfig holds audio input device settings.
type AudioConfig struct {
	Backend    string `json:"backend" yaml:"backend" validate:"oneof=malgo process"` // Capture backend
	Input      string `json:"input" yaml:"input"`                                    // Device identifier (empty = default)
	SampleRate uint32 `json:"sample_rate" yaml:"sample_rate" validate:"omitempty,min=8000,max=192000"`
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"` // Path to FFmpeg binary (empty = use PATH)
}

// MeterConfig holds level calculation settings.
type MeterConfig struct {
	CalibrationDB float64 `json:"calibration_db" yaml:"calibration_db" validate:"gte=0,lte=140"`
	FFTSize       int     `json:"fft_size" yaml:"fft_size" validate:"min=32,max=32768"`
	FrameRate     int     `json:"frame_rate" yaml:"frame_rate" validate:"min=1,max=240"`
	PeakHoldMs    int64   `json:"peak_hold_ms" yaml:"peak_hold_ms" validate:"min=0"`
}

// RecordingConfig holds recording session settings.
type RecordingConfig struct {
	IntervalMs     int64 `json:"interval_ms" yaml:"interval_ms" validate:"min=50"`
	StepMultiplier int   `json:"step_multiplier" yaml:"step_multiplier" validate:"min=1"`
}

// S3Config holds S3-compatible storage settings for report uploads.
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// ReportConfig holds report export settings.
type ReportConfig struct {
	Preparer  string   `json:"preparer" yaml:"preparer" validate:"max=100"`
	LogoPath  string   `json:"logo_path" yaml:"logo_path"`
	OutputDir string   `json:"output_dir" yaml:"output_dir"`
	S3        S3Config `json:"s3" yaml:"s3"`
}

// MQTTConfig holds MQTT telemetry settings. An empty broker disables telemetry.
type MQTTConfig struct {
	Broker     string `json:"broker" yaml:"broker" validate:"omitempty,url"`
	ClientID   string `json:"client_id" yaml:"client_id"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	Topic      string `json:"topic" yaml:"topic" validate:"excludesall=#+"`
	IntervalMs int64  `json:"interval_ms" yaml:"interval_ms" validate:"min=0"`
}

// TelemetryConfig holds outbound telemetry settings.
type TelemetryConfig struct {
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

// LogConfig holds event log settings.
type LogConfig struct {
	EventLogPath string `json:"event_log_path" yaml:"event_log_path"` // Empty = default path
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System    SystemConfig    `json:"system" yaml:"system"`
	Web       WebConfig       `json:"web" yaml:"web"`
	Audio     AudioConfig     `json:"audio" yaml:"audio"`
	Meter     MeterConfig     `json:"meter" yaml:"meter"`
	Recording RecordingConfig `json:"recording" yaml:"recording"`
	Report    ReportConfig    `json:"report" yaml:"report"`
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `json:"log" yaml:"log"`

	mu       sync.RWMutex
	filePath string
	env      map[string]string
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.applyDefaults()
	return c
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
// Environment overrides are captured here and never written back.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.env = loadEnv(filepath.Join(filepath.Dir(c.filePath), ".env"))

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.applyDefaults()
		return c.saveLocked()
	}
	if err != nil {
		return util.WrapError("read config", err)
	}

	if err := c.unmarshal(data); err != nil {
		return util.WrapError("parse config", err)
	}

	c.applyDefaults()

	return c.validate()
}

// isYAML reports whether the config file uses YAML.
func (c *Config) isYAML() bool {
	switch strings.ToLower(filepath.Ext(c.filePath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) unmarshal(data []byte) error {
	if c.isYAML() {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func (c *Config) marshal() ([]byte, error) {
	if c.isYAML() {
		return yaml.Marshal(c)
	}
	return json.MarshalIndent(c, "", "  ")
}

// loadEnv reads the override variables. Values in the process environment
// take precedence over the .env file.
func loadEnv(dotenv string) map[string]string {
	file, err := godotenv.Read(dotenv)
	if err != nil {
		file = map[string]string{}
	}

	env := make(map[string]string)
	for _, key := range []string{EnvPort, EnvAPIKey, EnvS3AccessKeyID, EnvS3SecretAccessKey, EnvMQTTBroker, EnvMQTTPassword} {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			env[key] = v
		} else if v := file[key]; v != "" {
			env[key] = v
		}
	}
	return env
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s %q: failed %s validation", configFieldName(fe.Namespace()), fmt.Sprint(fe.Value()), fe.Tag())
		}
		return util.WrapError("validate config", err)
	}
	// Control characters would break the page title and report metadata.
	if !stationNamePattern.MatchString(c.Web.StationName) {
		return fmt.Errorf("invalid station_name %q: must be printable characters", c.Web.StationName)
	}
	if c.Report.OutputDir != "" {
		if err := util.ValidatePath("report.output_dir", c.Report.OutputDir); err != nil {
			return err
		}
	}
	return nil
}

// configFieldName turns "Config.Meter.CalibrationDB" into "meter.calibrationdb".
func configFieldName(namespace string) string {
	_, name, _ := strings.Cut(namespace, ".")
	return strings.ToLower(name)
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	// System defaults
	c.System.Port = cmp.Or(c.System.Port, DefaultWebPort)
	// Web defaults
	c.Web.StationName = cmp.Or(c.Web.StationName, DefaultStationName)
	c.Web.ColorLight = cmp.Or(c.Web.ColorLight, DefaultStationColorLight)
	c.Web.ColorDark = cmp.Or(c.Web.ColorDark, DefaultStationColorDark)
	// Audio defaults
	c.Audio.Backend = cmp.Or(c.Audio.Backend, string(audio.BackendMalgo))
	c.Audio.SampleRate = cmp.Or(c.Audio.SampleRate, audio.DefaultSampleRate)
	// Meter defaults; a zero calibration selects the default offset.
	c.Meter.CalibrationDB = cmp.Or(c.Meter.CalibrationDB, audio.DefaultCalibrationDB)
	c.Meter.FFTSize = cmp.Or(c.Meter.FFTSize, audio.DefaultFFTSize)
	c.Meter.FrameRate = cmp.Or(c.Meter.FrameRate, DefaultFrameRate)
	c.Meter.PeakHoldMs = cmp.Or(c.Meter.PeakHoldMs, DefaultPeakHoldMs)
	// Recording defaults
	c.Recording.IntervalMs = cmp.Or(c.Recording.IntervalMs, recording.DefaultInterval.Milliseconds())
	c.Recording.StepMultiplier = cmp.Or(c.Recording.StepMultiplier, recording.DefaultStepMultiplier)
	// Telemetry defaults
	c.Telemetry.MQTT.ClientID = cmp.Or(c.Telemetry.MQTT.ClientID, DefaultMQTTClientID)
	c.Telemetry.MQTT.Topic = cmp.Or(c.Telemetry.MQTT.Topic, DefaultMQTTTopic)
	c.Telemetry.MQTT.IntervalMs = cmp.Or(c.Telemetry.MQTT.IntervalMs, DefaultMQTTIntervalMs)
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := c.marshal()
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}

	return nil
}

// --- Setters for individual settings ---

// SetCalibration updates the calibration offset and saves the configuration.
// Zero is rejected because a stored zero reads back as the default offset.
func (c *Config) SetCalibration(db float64) error {
	if db <= audio.MinReadingDB || db > audio.MaxReadingDB {
		return fmt.Errorf("invalid calibration_db %v: must be greater than %v and at most %v", db, audio.MinReadingDB, audio.MaxReadingDB)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Meter.CalibrationDB = db
	return c.saveLocked()
}

// SetPreparer updates the default report preparer and saves the configuration.
func (c *Config) SetPreparer(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Report.Preparer = name
	return c.saveLocked()
}

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}

// --- Snapshot for atomic reads ---

// Snapshot is a point-in-time copy of configuration values with environment
// overrides applied.
type Snapshot struct {
	// System
	WebPort int
	APIKey  string

	// Web/Branding
	StationName       string
	StationColorLight string
	StationColorDark  string

	// Audio
	AudioBackend audio.Backend
	AudioInput   string
	SampleRate   uint32
	FFmpegPath   string

	// Meter
	CalibrationDB float64
	FFTSize       int
	FrameRate     int
	PeakHold      time.Duration

	// Recording
	RecordInterval time.Duration
	StepMultiplier int

	// Report
	Preparer  string
	LogoPath  string
	OutputDir string
	S3        report.S3Config

	// Telemetry
	MQTT MQTTConfig

	// Log
	EventLogPath string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		// System
		WebPort: c.System.Port,
		APIKey:  c.System.APIKey,

		// Web/Branding
		StationName:       c.Web.StationName,
		StationColorLight: c.Web.ColorLight,
		StationColorDark:  c.Web.ColorDark,

		// Audio
		AudioBackend: audio.Backend(c.Audio.Backend),
		AudioInput:   c.Audio.Input,
		SampleRate:   c.Audio.SampleRate,
		FFmpegPath:   c.Audio.FFmpegPath,

		// Meter
		CalibrationDB: cmp.Or(c.Meter.CalibrationDB, audio.DefaultCalibrationDB),
		FFTSize:       c.Meter.FFTSize,
		FrameRate:     c.Meter.FrameRate,
		PeakHold:      time.Duration(c.Meter.PeakHoldMs) * time.Millisecond,

		// Recording
		RecordInterval: time.Duration(c.Recording.IntervalMs) * time.Millisecond,
		StepMultiplier: c.Recording.StepMultiplier,

		// Report
		Preparer:  c.Report.Preparer,
		LogoPath:  c.Report.LogoPath,
		OutputDir: c.Report.OutputDir,
		S3:        report.S3Config(c.Report.S3),

		// Telemetry
		MQTT: c.Telemetry.MQTT,

		// Log
		EventLogPath: c.Log.EventLogPath,
	}

	// Environment overrides
	if v, ok := c.env[EnvPort]; ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port <= 65535 {
			s.WebPort = port
		}
	}
	s.APIKey = cmp.Or(c.env[EnvAPIKey], s.APIKey)
	s.S3.AccessKeyID = cmp.Or(c.env[EnvS3AccessKeyID], s.S3.AccessKeyID)
	s.S3.SecretAccessKey = cmp.Or(c.env[EnvS3SecretAccessKey], s.S3.SecretAccessKey)
	s.MQTT.Broker = cmp.Or(c.env[EnvMQTTBroker], s.MQTT.Broker)
	s.MQTT.Password = cmp.Or(c.env[EnvMQTTPassword], s.MQTT.Password)

	return s
}

// HasMQTT reports whether MQTT telemetry is configured.
func (s *Snapshot) HasMQTT() bool {
	return s.MQTT.Broker != ""
}

// MQTTInterval returns the minimum time between published level messages.
func (s *Snapshot) MQTTInterval() time.Duration {
	return time.Duration(s.MQTT.IntervalMs) * time.Millisecond
}

// AudioInputConfig returns the capture settings for audio.NewInput.
func (s *Snapshot) AudioInputConfig() audio.InputConfig {
	return audio.InputConfig{
		Backend:    s.AudioBackend,
		Device:     s.AudioInput,
		SampleRate: s.SampleRate,
		FFmpegPath: s.FFmpegPath,
		WindowSize: s.FFTSize,
	}
}

// HasS3 reports whether report uploads are configured.
func (s *Snapshot) HasS3() bool {
	return s.S3.IsConfigured()
}

// --- Utility functions ---

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
