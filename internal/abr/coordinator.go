package abr

import (
	"sort"
	"sync"
	"time"

	"github.com/streamplay/streamplay/internal/manifest"
)

// Config parameterizes a Coordinator.
type Config struct {
	SafetyFactor float64 // e.g. 0.8: pick the highest bitrate <= estimate*SafetyFactor
	Debounce     time.Duration
	WindowSize   int
	SamplePeriod time.Duration
}

// Decision is the Coordinator's representation selection for a tick.
type Decision struct {
	Representation *manifest.Representation
	Reason         string // "manual" | "auto"
}

// Coordinator is the per-track ABR decision engine: it honors a manual
// override first, otherwise estimates throughput from BandwidthTracker and
// picks the richest representation the estimate safely affords, subject to
// throttle/limitWidth clipping and a debounce interval that suppresses
// chattering decisions.
type Coordinator struct {
	cfg     Config
	tracker *BandwidthTracker

	mu           sync.Mutex
	manualBps    int64 // 0 means no manual override
	throttleBps  int64 // 0 means no throttle
	maxAutoBps   int64 // 0 means no auto-mode ceiling
	limitWidth   int   // 0 means no width limit
	lastDecision *manifest.Representation
	lastChange   time.Time
}

// New builds a Coordinator from cfg, defaulting SafetyFactor to 0.8 if unset.
func New(cfg Config) *Coordinator {
	if cfg.SafetyFactor <= 0 {
		cfg.SafetyFactor = 0.8
	}
	return &Coordinator{
		cfg:     cfg,
		tracker: NewBandwidthTracker(cfg.WindowSize, cfg.SamplePeriod),
	}
}

// Tracker exposes the underlying bandwidth tracker so the Segment Pipeline's
// progress handle can feed it observed byte counts.
func (c *Coordinator) Tracker() *BandwidthTracker {
	return c.tracker
}

// SetManualBitrate pins selection to the representation matching bps
// exactly, or the closest one not exceeding it. Zero clears the override.
func (c *Coordinator) SetManualBitrate(bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualBps = bps
}

// SetThrottle clips the candidate set to representations at or below bps.
// Zero disables throttling.
func (c *Coordinator) SetThrottle(bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttleBps = bps
}

// SetMaxAutoBitrate caps the candidate set for auto-mode decisions only,
// distinct from throttle: a manual override still ignores this ceiling.
// Zero disables the cap.
func (c *Coordinator) SetMaxAutoBitrate(bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxAutoBps = bps
}

// SetLimitWidth clips the candidate set to representations at or below the
// given pixel width. Zero disables the limit. Representations with Width
// == 0 (non-video) are never clipped by this setting.
func (c *Coordinator) SetLimitWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limitWidth = width
}

// Decide selects a representation from candidates. Returns (decision, true)
// only when the decision differs from the last emitted one and the
// debounce interval has elapsed; otherwise (zero, false) so callers know
// to suppress the change.
func (c *Coordinator) Decide(candidates []*manifest.Representation) (Decision, bool) {
	if len(candidates) == 0 {
		return Decision{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	clipped := c.clip(candidates)
	if len(clipped) == 0 {
		clipped = candidates
	}

	var decision Decision
	if c.manualBps > 0 {
		decision = Decision{Representation: pickManual(clipped, c.manualBps), Reason: "manual"}
	} else {
		estimate := c.tracker.EstimateBps()
		decision = Decision{Representation: pickAuto(clipped, estimate, c.cfg.SafetyFactor), Reason: "auto"}
	}
	if decision.Representation == nil {
		return Decision{}, false
	}

	if c.lastDecision != nil && c.lastDecision.ID == decision.Representation.ID {
		return Decision{}, false
	}
	if !c.lastChange.IsZero() && time.Since(c.lastChange) < c.cfg.Debounce {
		return Decision{}, false
	}

	c.lastDecision = decision.Representation
	c.lastChange = time.Now()
	return decision, true
}

func (c *Coordinator) clip(candidates []*manifest.Representation) []*manifest.Representation {
	out := make([]*manifest.Representation, 0, len(candidates))
	for _, r := range candidates {
		if c.throttleBps > 0 && r.Bitrate > c.throttleBps {
			continue
		}
		if c.manualBps == 0 && c.maxAutoBps > 0 && r.Bitrate > c.maxAutoBps {
			continue
		}
		if c.limitWidth > 0 && r.Width > 0 && r.Width > c.limitWidth {
			continue
		}
		out = append(out, r)
	}
	return out
}

func sortedByBitrate(reps []*manifest.Representation) []*manifest.Representation {
	out := make([]*manifest.Representation, len(reps))
	copy(out, reps)
	sort.Slice(out, func(i, j int) bool { return out[i].Bitrate < out[j].Bitrate })
	return out
}

// pickManual returns the exact bitrate match, or else the closest
// representation not exceeding bps, or else the lowest available.
func pickManual(candidates []*manifest.Representation, bps int64) *manifest.Representation {
	sorted := sortedByBitrate(candidates)
	var best *manifest.Representation
	for _, r := range sorted {
		if r.Bitrate == bps {
			return r
		}
		if r.Bitrate < bps {
			best = r
		}
	}
	if best != nil {
		return best
	}
	return sorted[0]
}

// pickAuto returns the highest-bitrate representation whose bitrate does
// not exceed estimate*safetyFactor, or the lowest available if none qualify.
func pickAuto(candidates []*manifest.Representation, estimateBps float64, safetyFactor float64) *manifest.Representation {
	sorted := sortedByBitrate(candidates)
	budget := estimateBps * safetyFactor
	var best *manifest.Representation
	for _, r := range sorted {
		if float64(r.Bitrate) <= budget {
			best = r
		}
	}
	if best != nil {
		return best
	}
	return sorted[0]
}
