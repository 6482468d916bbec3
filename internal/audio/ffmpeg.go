//go:build !linux && !windows

package audio

// buildFFmpegCaptureArgs returns FFmpeg arguments for raw unsigned 8-bit mono capture.
func buildFFmpegCaptureArgs(inputFormat, device string, sampleRate uint32) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "u8",
		"-ac", "1",
		"-ar", formatRate(sampleRate),
		"pipe:1",
	}
}
