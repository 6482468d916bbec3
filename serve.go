package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/telemetry"
	"github.com/oszuidwest/zwfm-dbmeter/internal/types"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

var flagAutoStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web interface and REST API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&flagAutoStart, "start", false, "Start the meter immediately")
}

// runServe runs the HTTP server until a shutdown signal arrives.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	if snap.OutputDir != "" {
		if err := util.CheckPathWritable(snap.OutputDir); err != nil {
			slog.Warn("report output directory is not writable, saved copies disabled", "path", snap.OutputDir, "error", err)
		}
	}

	events := openEventLog(&snap)
	defer func() {
		if err := events.Close(); err != nil {
			slog.Warn("failed to close event log", "error", err)
		}
	}()

	m, err := newMeter(&snap, events)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
	defer stop()

	pub := startTelemetry(ctx, &snap, m)

	srv := NewServer(cfg, m, events, pub)
	srv.version.Start(ctx)
	defer srv.version.Stop()

	httpServer := srv.Start()

	if flagAutoStart {
		if err := m.Start(); err != nil {
			slog.Warn("meter did not start", "error", err)
		}
	}

	slog.Info("dbmeter ready", "version", Version, "port", snap.WebPort, "backend", snap.AudioBackend)

	<-ctx.Done()
	slog.Info("shutting down")

	return shutdown(httpServer, m, pub)
}

// shutdown stops every running service and joins their errors.
// The HTTP server gets types.ShutdownTimeout to drain.
func shutdown(httpServer *http.Server, m *meter.Meter, pub *telemetry.Publisher) error {
	ctx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, util.WrapError("shut down http server", err))
	}
	if err := m.Stop(); err != nil {
		errs = append(errs, err)
	}
	if pub != nil {
		pub.Close()
	}
	return errors.Join(errs...)
}
