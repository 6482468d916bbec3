package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a peak reading is held before it may fall.
const DefaultPeakHoldDuration = 3000 * time.Millisecond

// PeakHolder tracks the held maximum reading shown next to the gauge.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder creates a peak holder at the minimum reading with the default duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{
		held:         MinReadingDB,
		holdDuration: DefaultPeakHoldDuration,
	}
}

// Update feeds a new reading and returns the held peak.
func (p *PeakHolder) Update(db float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if db >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = db
		p.heldAt = now
	}
	return p.held
}

// Peak returns the held peak without updating it.
func (p *PeakHolder) Peak() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// SetHoldDuration updates the peak hold duration.
func (p *PeakHolder) SetHoldDuration(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.holdDuration = d
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = MinReadingDB
	p.heldAt = time.Time{}
}
