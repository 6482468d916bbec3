package util

import (
	"fmt"
	"time"
)

// reportDateFormat renders dates as M/D/YYYY.
const reportDateFormat = "1/2/2006"

// FormatReportDate formats t as a US-style short date, e.g. "3/7/2025".
func FormatReportDate(t time.Time) string {
	return t.Format(reportDateFormat)
}

// FormatDuration formats milliseconds as a human-readable duration string.
// Examples: "45s", "2m 34s", "1h 23m"
func FormatDuration(ms int64) string {
	totalSeconds := ms / 1000
	if totalSeconds < 60 {
		return fmt.Sprintf("%ds", totalSeconds)
	}
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes %= 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
