package audio

import "sync"

// SampleWindow keeps the most recent samples written to it.
// It is safe for concurrent use.
type SampleWindow struct {
	mu       sync.Mutex
	buffer   []uint8
	size     int
	writePos int
	full     bool
}

// NewSampleWindow creates a window holding up to size samples.
func NewSampleWindow(size int) *SampleWindow {
	if size <= 0 {
		size = DefaultFFTSize
	}
	return &SampleWindow{
		buffer: make([]uint8, size),
		size:   size,
	}
}

// Write appends samples, overwriting the oldest ones once the window is full.
func (w *SampleWindow) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := p
	if len(data) > w.size {
		data = data[len(data)-w.size:]
	}
	for _, b := range data {
		w.buffer[w.writePos] = b
		w.writePos = (w.writePos + 1) % w.size
		if w.writePos == 0 {
			w.full = true
		}
	}
	return len(p), nil
}

// Len returns the number of samples currently held.
func (w *SampleWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lenLocked()
}

func (w *SampleWindow) lenLocked() int {
	if w.full {
		return w.size
	}
	return w.writePos
}

// Latest returns a copy of the newest n samples in time order.
func (w *SampleWindow) Latest(n int) SampleBlock {
	w.mu.Lock()
	defer w.mu.Unlock()

	n = min(n, w.lenLocked())
	if n <= 0 {
		return SampleBlock{}
	}
	out := make(SampleBlock, n)
	start := (w.writePos - n + w.size) % w.size
	for i := range n {
		out[i] = w.buffer[(start+i)%w.size]
	}
	return out
}

// Reset discards all samples.
func (w *SampleWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writePos = 0
	w.full = false
}
