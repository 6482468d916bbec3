// Package audio provides sound level calculation and microphone capture for the meter.
package audio

import "math"

const (
	// DefaultCalibrationDB maps a typical microphone noise floor to a plausible dB(A)-like range.
	DefaultCalibrationDB = 90.0
	// MinReadingDB is the lowest reading the meter reports.
	MinReadingDB = 0.0
	// MaxReadingDB is the highest reading the meter reports.
	MaxReadingDB = 140.0
	// DefaultFFTSize is the analysis window size. Blocks are half of it.
	DefaultFFTSize = 256
	// SampleCenter is the unsigned 8-bit value that represents zero amplitude.
	SampleCenter = 128.0
)

// SampleBlock is a run of unsigned 8-bit time-domain samples centered at 128.
type SampleBlock []uint8

// ComputeDecibels converts a sample block into a calibrated decibel reading.
// It reports false when the level is not finite, which happens for silence
// (all samples at 128) or empty blocks. Such a reading must not be published.
func ComputeDecibels(block SampleBlock, calibrationDB float64) (float64, bool) {
	var sumSquares float64
	for _, s := range block {
		norm := float64(s)/SampleCenter - 1.0
		sumSquares += norm * norm
	}
	rms := math.Sqrt(sumSquares / float64(len(block)))

	db := 20*math.Log10(rms) + calibrationDB
	if !IsValidReading(db) {
		return 0, false
	}
	return ClampReading(db), true
}

// IsValidReading reports whether db is a finite number.
func IsValidReading(db float64) bool {
	return !math.IsNaN(db) && !math.IsInf(db, 0)
}

// ClampReading limits db to the meter range.
func ClampReading(db float64) float64 {
	return max(MinReadingDB, min(MaxReadingDB, db))
}

// RoundTenth rounds db to one decimal place.
func RoundTenth(db float64) float64 {
	return math.Round(db*10) / 10
}

// NeedleRotation returns the gauge needle angle in degrees for a reading.
// 0 dB points at -45 degrees and 140 dB at 135 degrees.
func NeedleRotation(db float64) float64 {
	return (db/MaxReadingDB)*180 - 45
}

// BlockSize returns the number of samples pulled per cycle for an FFT size.
func BlockSize(fftSize int) int {
	if fftSize <= 1 {
		return DefaultFFTSize / 2
	}
	return fftSize / 2
}
