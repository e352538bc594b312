// Package abr implements the ABR Coordinator: a rolling bandwidth
// estimate combined with manual overrides and throttle/limitWidth clipping
// to pick a representation per track, simplified from a multi-edge
// keyed-map shape (origin/transcoder/processor/client edges) down to the
// single per-track tracker this domain needs — each track gets its own
// Coordinator instance.
package abr

import (
	"sync"
	"time"
)

// DefaultWindowSize and DefaultSamplePeriod are the rolling bandwidth
// tracker's defaults.
const (
	DefaultWindowSize   = 30
	DefaultSamplePeriod = time.Second
)

type bandwidthSample struct {
	bytes     uint64
	timestamp time.Time
}

// BandwidthTracker maintains a sliding window of byte-transfer samples and
// derives a current bytes/sec estimate from them.
type BandwidthTracker struct {
	mu           sync.Mutex
	samples      []bandwidthSample
	windowSize   int
	samplePeriod time.Duration
	pendingBytes uint64
	lastSample   time.Time
}

// NewBandwidthTracker builds a tracker. windowSize <= 0 uses
// DefaultWindowSize; samplePeriod <= 0 uses DefaultSamplePeriod.
func NewBandwidthTracker(windowSize int, samplePeriod time.Duration) *BandwidthTracker {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if samplePeriod <= 0 {
		samplePeriod = DefaultSamplePeriod
	}
	return &BandwidthTracker{
		samples:      make([]bandwidthSample, 0, windowSize),
		windowSize:   windowSize,
		samplePeriod: samplePeriod,
		lastSample:   time.Now(),
	}
}

// Observe records bytes transferred during an in-flight or completed
// segment fetch, fed by the Segment Pipeline's progress handle.
func (t *BandwidthTracker) Observe(bytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingBytes += bytes
}

// Sample folds pending bytes into the rolling window. Call periodically
// (every SamplePeriod) from the orchestrator's tick loop.
func (t *BandwidthTracker) Sample() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.samples = append(t.samples, bandwidthSample{bytes: t.pendingBytes, timestamp: now})
	if len(t.samples) > t.windowSize {
		t.samples = t.samples[len(t.samples)-t.windowSize:]
	}
	t.pendingBytes = 0
	t.lastSample = now
}

// EstimateBps returns the current bandwidth estimate in bytes/sec, the
// mean of the sample window. Zero if no samples yet.
func (t *BandwidthTracker) EstimateBps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return 0
	}
	var total uint64
	for _, s := range t.samples {
		total += s.bytes
	}
	duration := time.Duration(len(t.samples)) * t.samplePeriod
	if duration == 0 {
		return 0
	}
	return float64(total) / duration.Seconds()
}

// Reset clears all sample history.
func (t *BandwidthTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = t.samples[:0]
	t.pendingBytes = 0
	t.lastSample = time.Now()
}
