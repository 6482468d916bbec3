// Package report turns a recorded series into table rows, PDF documents and S3 uploads.
package report

import (
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
)

// Row is one formatted table row: the time label and the reading to one decimal.
type Row struct {
	TimeStep string `json:"time_step"`
	Decibels string `json:"db"`
}

// Data is a read-only view of a recorded series.
type Data struct {
	series recording.Series
}

// FromSeries wraps a series snapshot. The caller must not modify series afterwards.
func FromSeries(series recording.Series) *Data {
	return &Data{series: series}
}

// Rows returns the formatted rows in recording order.
func (d *Data) Rows() []Row {
	rows := make([]Row, len(d.series))
	for i, s := range d.series {
		rows[i] = Row{TimeStep: s.TimeStepString(), Decibels: s.DecibelsString()}
	}
	return rows
}

// IsEmpty reports whether there are no rows.
func (d *Data) IsEmpty() bool {
	return len(d.series) == 0
}

// Len returns the number of rows.
func (d *Data) Len() int {
	return len(d.series)
}

// Filename returns the download name for a report generated at t.
func Filename(t time.Time) string {
	return fmt.Sprintf("sound-report-%d.pdf", t.UnixMilli())
}
