// Package console renders the meter as a single-line terminal gauge.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/oszuidwest/zwfm-dbmeter/internal/audio"
	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/util"
)

// Bar color thresholds in dB.
const (
	WarnDB   = 70.0
	DangerDB = 85.0
)

// DefaultWidth is the bar width in cells.
const DefaultWidth = 40

// Theme defines the gauge colors.
type Theme struct {
	Normal lipgloss.Color
	Warn   lipgloss.Color
	Danger lipgloss.Color
	Dim    lipgloss.Color
	Record lipgloss.Color
}

// DefaultTheme matches the web UI.
var DefaultTheme = Theme{
	Normal: lipgloss.Color("#28a745"),
	Warn:   lipgloss.Color("#ffc107"),
	Danger: lipgloss.Color("#dc3545"),
	Dim:    lipgloss.Color("#6e7681"),
	Record: lipgloss.Color("#ff0000"),
}

// Gauge is a meter sink that redraws a terminal line at a fixed rate.
// Sink calls only store the latest values.
type Gauge struct {
	w     io.Writer
	width int
	theme Theme
	start time.Time

	mu      sync.Mutex
	db      float64
	peak    float64
	has     bool
	samples int
}

// NewGauge creates a gauge writing to w.
func NewGauge(w io.Writer) *Gauge {
	return &Gauge{w: w, width: DefaultWidth, theme: DefaultTheme, start: time.Now()}
}

// OnReading implements meter.Sink.
func (g *Gauge) OnReading(r meter.Reading) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.db, g.peak, g.has = r.DB, r.Peak, true
}

// OnSeries implements meter.Sink.
func (g *Gauge) OnSeries(series recording.Series) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = len(series)
}

// Run redraws the gauge every interval until ctx is done, then ends the line.
func (g *Gauge) Run(ctx context.Context, interval time.Duration, recordingState func() recording.State) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(g.w)
			return
		case now := <-ticker.C:
			fmt.Fprint(g.w, "\r"+g.Render(now, recordingState()))
		}
	}
}

// Render returns the gauge line for the current values.
func (g *Gauge) Render(now time.Time, state recording.State) string {
	g.mu.Lock()
	db, peak, has, samples := g.db, g.peak, g.has, g.samples
	g.mu.Unlock()

	dim := lipgloss.NewStyle().Foreground(g.theme.Dim)
	if !has {
		return dim.Render(fmt.Sprintf("[%s] waiting for input", strings.Repeat(" ", g.width)))
	}

	filled := int(db / audio.MaxReadingDB * float64(g.width))
	filled = max(0, min(g.width, filled))
	bar := lipgloss.NewStyle().Foreground(g.levelColor(db)).Render(strings.Repeat("█", filled)) +
		dim.Render(strings.Repeat("░", g.width-filled))

	line := fmt.Sprintf("[%s] %s %s",
		bar,
		lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%5.1f dB", db)),
		dim.Render(fmt.Sprintf("peak %5.1f dB", peak)),
	)
	if state == recording.StateRecording {
		line += " " + lipgloss.NewStyle().Foreground(g.theme.Record).Render("● REC") +
			dim.Render(fmt.Sprintf(" %d samples", samples))
	}
	return line + " " + dim.Render(util.FormatDuration(now.Sub(g.start).Milliseconds()))
}

func (g *Gauge) levelColor(db float64) lipgloss.Color {
	switch {
	case db >= DangerDB:
		return g.theme.Danger
	case db >= WarnDB:
		return g.theme.Warn
	default:
		return g.theme.Normal
	}
}
