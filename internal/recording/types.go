// Package recording captures decibel readings into a time-stepped series.
package recording

import (
	"strconv"
	"time"
)

// State is the recording state.
type State string

const (
	// StateIdle indicates no active recording.
	StateIdle State = "idle"
	// StateRecording indicates recording is in progress.
	StateRecording State = "recording"
)

const (
	// DefaultInterval is how often a reading is sampled into the series.
	DefaultInterval = time.Second
	// DefaultStepMultiplier is how many time steps each recorded sample advances the label.
	DefaultStepMultiplier = 20
)

// RecordedSample is one entry in a recording.
type RecordedSample struct {
	// TimeStep is the logical time label: sequence index times the step multiplier.
	TimeStep int `json:"time_step"`
	// Decibels is the reading rounded to one decimal place.
	Decibels float64 `json:"db"`
}

// TimeStepString returns the time step as a decimal string.
func (s RecordedSample) TimeStepString() string {
	return strconv.Itoa(s.TimeStep)
}

// DecibelsString returns the reading with exactly one decimal.
func (s RecordedSample) DecibelsString() string {
	return strconv.FormatFloat(s.Decibels, 'f', 1, 64)
}

// Series is an insertion-ordered list of recorded samples.
type Series []RecordedSample

// Last returns the newest sample, if any.
func (s Series) Last() (RecordedSample, bool) {
	if len(s) == 0 {
		return RecordedSample{}, false
	}
	return s[len(s)-1], true
}
