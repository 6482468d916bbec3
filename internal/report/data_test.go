package report

import (
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
)

func TestRows(t *testing.T) {
	data := FromSeries(recording.Series{
		{TimeStep: 0, Decibels: 40},
		{TimeStep: 20, Decibels: 42.5},
		{TimeStep: 40, Decibels: 41.04},
	})

	want := []Row{{"0", "40.0"}, {"20", "42.5"}, {"40", "41.0"}}
	got := data.Rows()
	if len(got) != len(want) {
		t.Fatalf("len(Rows()) = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Rows()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if data.IsEmpty() {
		t.Error("IsEmpty() = true, want false")
	}
}

func TestEmpty(t *testing.T) {
	tests := []struct {
		name   string
		series recording.Series
	}{
		{"nil", nil},
		{"empty", recording.Series{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := FromSeries(tt.series)
			if !data.IsEmpty() {
				t.Error("IsEmpty() = false, want true")
			}
			if rows := data.Rows(); len(rows) != 0 {
				t.Errorf("Rows() = %v, want empty", rows)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	ts := time.UnixMilli(1718000000123)
	if got, want := Filename(ts), "sound-report-1718000000123.pdf"; got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}
}
