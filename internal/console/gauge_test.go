package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
)

func TestRenderWaiting(t *testing.T) {
	g := NewGauge(&bytes.Buffer{})
	got := g.Render(time.Now(), recording.StateIdle)
	if !strings.Contains(got, "waiting for input") {
		t.Errorf("Render() = %q, want waiting text", got)
	}
}

func TestRenderReading(t *testing.T) {
	g := NewGauge(&bytes.Buffer{})
	g.OnReading(meter.Reading{DB: 72.34, Peak: 80})

	got := g.Render(g.start.Add(12*time.Second), recording.StateIdle)
	for _, want := range []string{" 72.3 dB", "peak  80.0 dB", "12s"} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() = %q, want %q", got, want)
		}
	}
	if strings.Contains(got, "REC") {
		t.Errorf("Render() = %q, want no REC marker while idle", got)
	}
}

func TestRenderRecording(t *testing.T) {
	g := NewGauge(&bytes.Buffer{})
	g.OnReading(meter.Reading{DB: 50})
	g.OnSeries(recording.Series{{TimeStep: 0, Decibels: 50}, {TimeStep: 20, Decibels: 51}})

	got := g.Render(g.start, recording.StateRecording)
	if !strings.Contains(got, "REC") || !strings.Contains(got, "2 samples") {
		t.Errorf("Render() = %q, want REC marker with 2 samples", got)
	}
}

func TestBarFill(t *testing.T) {
	tests := []struct {
		db         float64
		wantFilled int
	}{
		{0, 0},
		{70, DefaultWidth / 2},
		{140, DefaultWidth},
	}

	for _, tt := range tests {
		g := NewGauge(&bytes.Buffer{})
		g.OnReading(meter.Reading{DB: tt.db})
		got := g.Render(g.start, recording.StateIdle)
		if n := strings.Count(got, "█"); n != tt.wantFilled {
			t.Errorf("db %v: filled = %d, want %d", tt.db, n, tt.wantFilled)
		}
		if n := strings.Count(got, "█") + strings.Count(got, "░"); n != DefaultWidth {
			t.Errorf("db %v: bar width = %d, want %d", tt.db, n, DefaultWidth)
		}
	}
}

func TestLevelColor(t *testing.T) {
	g := NewGauge(&bytes.Buffer{})
	tests := []struct {
		db   float64
		want lipgloss.Color
	}{
		{40, DefaultTheme.Normal},
		{WarnDB, DefaultTheme.Warn},
		{DangerDB + 1, DefaultTheme.Danger},
	}
	for _, tt := range tests {
		if got := g.levelColor(tt.db); got != tt.want {
			t.Errorf("levelColor(%v) = %v, want %v", tt.db, got, tt.want)
		}
	}
}

func TestRunEndsLine(t *testing.T) {
	var buf bytes.Buffer
	g := NewGauge(&buf)
	g.OnReading(meter.Reading{DB: 60})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	g.Run(ctx, 10*time.Millisecond, func() recording.State { return recording.StateIdle })

	out := buf.String()
	if !strings.HasPrefix(out, "\r") || !strings.HasSuffix(out, "\n") {
		t.Errorf("output = %q, want carriage-return frames ending in newline", out)
	}
}
