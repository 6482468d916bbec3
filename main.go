// Package main provides a real-time sound level meter with a web interface,
// a terminal gauge and PDF reports of recorded measurements.
//
// Usage:
//
//	dbmeter [serve] [--config path/to/config.json]
//	dbmeter measure --duration 1m --record --pdf report.pdf
//	dbmeter devices
//	dbmeter version
//
// If --config is not specified, the meter looks for config.json in the same
// directory as the binary.
package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/config"
	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/schedule"
	"github.com/oszuidwest/zwfm-dbmeter/internal/telemetry"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Build information, set via -ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	flagConfig   string
	flagLogLevel string
	flagLogJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "dbmeter",
	Short: "Real-time sound level meter",
	Long: `dbmeter measures sound pressure from a capture device and shows it as a
gauge in the browser or the terminal. Readings can be recorded once per
second and exported as a PDF report or uploaded to S3-compatible storage.

Without a subcommand, dbmeter runs the web interface (same as 'dbmeter serve').`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setupLogging(cmd.ErrOrStderr())
	},
	RunE: runServe,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "Path to config file (default: config.json next to binary)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flagLogJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(serveCmd, measureCmd, devicesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler selected by the log flags.
func setupLogging(w io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", flagLogLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if flagLogJSON {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// loadConfig loads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		execPath, err := os.Executable()
		if err != nil {
			return nil, util.WrapError("get executable path", err)
		}
		path = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	slog.Info("using config file", "path", path)

	cfg := config.New(path)
	if err := cfg.Load(); err != nil {
		return nil, util.WrapError("load config", err)
	}
	return cfg, nil
}

// openEventLog opens the event log. Failure disables event logging.
func openEventLog(snap *config.Snapshot) *eventlog.Logger {
	path := cmp.Or(snap.EventLogPath, eventlog.DefaultLogPath(snap.WebPort))
	logger, err := eventlog.NewLogger(path)
	if err != nil {
		slog.Warn("event log disabled", "path", path, "error", err)
		return nil
	}
	return logger
}

// newMeter creates a stopped meter for the configured input.
func newMeter(snap *config.Snapshot, events *eventlog.Logger) (*meter.Meter, error) {
	in, err := audio.NewInput(snap.AudioInputConfig())
	if err != nil {
		return nil, err
	}
	return meter.New(meter.Options{
		Input:          in,
		Frames:         schedule.NewFrameClock(snap.FrameRate),
		CalibrationDB:  snap.CalibrationDB,
		FFTSize:        snap.FFTSize,
		PeakHold:       snap.PeakHold,
		RecordInterval: snap.RecordInterval,
		StepMultiplier: snap.StepMultiplier,
		Events:         events,
		Backend:        string(snap.AudioBackend),
		Device:         snap.AudioInput,
	}), nil
}

// startTelemetry attaches an MQTT publisher to m when a broker is configured.
// It returns nil otherwise.
func startTelemetry(ctx context.Context, snap *config.Snapshot, m *meter.Meter) *telemetry.Publisher {
	if !snap.HasMQTT() {
		return nil
	}

	pub := telemetry.New(telemetry.Config{
		Broker:   snap.MQTT.Broker,
		ClientID: snap.MQTT.ClientID,
		Username: snap.MQTT.Username,
		Password: snap.MQTT.Password,
		Topic:    snap.MQTT.Topic,
		Interval: snap.MQTTInterval(),
	})
	m.AddSink(pub)

	go func() {
		if err := pub.Connect(ctx); err != nil {
			slog.Debug("mqtt connect abandoned", "error", err)
		}
	}()
	go pub.Run(ctx)

	slog.Info("mqtt telemetry enabled", "broker", snap.MQTT.Broker, "topic", snap.MQTT.Topic)
	return pub
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "dbmeter %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return err
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices for the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		snap := cfg.Snapshot()

		devices := audio.ListDevices(snap.AudioBackend)
		if len(devices) == 0 {
			return audio.ErrNoAudioDevice
		}
		out := cmd.OutOrStdout()
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			if _, err := fmt.Fprintf(out, "%s %-24s %s\n", marker, d.ID, d.Name); err != nil {
				return err
			}
		}
		return nil
	},
}
