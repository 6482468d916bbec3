package main

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/oszuidwest/zwfm-dbmeter/internal/console"
	"github.com/oszuidwest/zwfm-dbmeter/internal/eventlog"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/server"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// gaugeRefresh is the terminal redraw interval.
const gaugeRefresh = 100 * time.Millisecond

var (
	flagDuration time.Duration
	flagRecord   bool
	flagPDF      string
	flagPreparer string
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Show a live meter in the terminal",
	Long: `measure starts the meter and draws a level bar in the terminal until
interrupted or until --duration elapses. With --record, readings are recorded
once per interval; --pdf writes the recording as a report when done.`,
	Args: cobra.NoArgs,
	RunE: runMeasure,
}

func init() {
	f := measureCmd.Flags()
	f.DurationVar(&flagDuration, "duration", 0, "Stop after this long (0 = until interrupted)")
	f.BoolVar(&flagRecord, "record", false, "Record readings while measuring")
	f.StringVar(&flagPDF, "pdf", "", "Write a PDF report of the recording to this path (implies --record)")
	f.StringVar(&flagPreparer, "preparer", "", "Report preparer (default: configured preparer)")
}

func runMeasure(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap := cfg.Snapshot()

	req := reportRequest{PreparedBy: cmp.Or(flagPreparer, snap.Preparer)}
	if err := server.ValidateStruct(&req); err != nil {
		return fmt.Errorf("invalid --preparer: %w", err)
	}

	events := openEventLog(&snap)
	defer events.Close() //nolint:errcheck // Best-effort on exit

	m, err := newMeter(&snap, events)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	gauge := console.NewGauge(out)
	m.AddSink(gauge)

	ctx, stop := signal.NotifyContext(cmd.Context(), util.ShutdownSignals()...)
	defer stop()
	if flagDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	pub := startTelemetry(ctx, &snap, m)
	if pub != nil {
		defer pub.Close()
	}

	if err := m.Start(); err != nil {
		return server.UserError(err)
	}

	record := flagRecord || flagPDF != ""
	if record {
		if err := m.StartRecording(); err != nil {
			_ = m.Stop()
			return err
		}
	}

	gauge.Run(ctx, gaugeRefresh, m.RecordingState)

	if err := m.Stop(); err != nil {
		slog.Warn("meter stop reported an error", "error", err)
	}

	if !record {
		return nil
	}

	series := m.Series()
	if _, err := fmt.Fprintf(out, "Recorded %d samples\n", len(series)); err != nil {
		return err
	}
	if flagPDF == "" {
		return nil
	}

	logo, err := loadLogo(snap.LogoPath)
	if err != nil {
		slog.Warn("configured logo unavailable", "path", snap.LogoPath, "error", err)
	}
	meta := report.Metadata{PreparedBy: req.PreparedBy, Logo: logo, SessionID: m.SessionID()}
	pdf, err := renderReport(series, meta)
	if err != nil {
		return err
	}
	if _, err := saveReport(filepath.Dir(flagPDF), filepath.Base(flagPDF), pdf); err != nil {
		return err
	}
	if err := events.LogReport(eventlog.ReportExported, meta.SessionID, &eventlog.ReportDetails{
		Filename:   flagPDF,
		PreparedBy: meta.PreparedBy,
		Rows:       len(series),
	}); err != nil {
		slog.Warn("failed to write event log", "error", err)
	}

	_, err = fmt.Fprintf(out, "Report written to %s\n", flagPDF)
	return err
}
