//go:build !windows

package util

import (
	"io"
	"os"
	"syscall"
)

// ShutdownSignals returns the signals to listen for graceful shutdown.
func ShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// StopProcess asks a capture process to exit. Both arecord and FFmpeg
// finish cleanly on SIGINT.
func StopProcess(p *os.Process, stdin io.WriteCloser) error {
	if stdin != nil {
		_ = stdin.Close()
	}
	if p == nil {
		return nil
	}
	return p.Signal(syscall.SIGINT)
}
