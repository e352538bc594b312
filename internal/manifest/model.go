// Package manifest implements the Manifest/Period/Adaptation/Representation/
// Segment data model and the refresh/merge semantics backing the
// externally-consumed manifest-parser contract.
package manifest

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TrackType enumerates the track kinds a Period's Adaptations are keyed by.
type TrackType string

// Supported track types.
const (
	TrackAudio TrackType = "audio"
	TrackVideo TrackType = "video"
	TrackText  TrackType = "text"
	TrackImage TrackType = "image"
)

// DurationUnbounded represents an unbounded (live, "Infinity") duration. It
// is persisted as the platform maximum and must never be compared against a
// floating +Inf downstream.
const DurationUnbounded = time.Duration(math.MaxInt64)

// ByteRange is an inclusive-exclusive byte offset pair used for segment and
// index byte ranges within a representation's media container.
type ByteRange struct {
	Start int64
	End   int64
}

// Segment is a descriptor only — bytes flow separately through the Segment
// Pipeline.
type Segment struct {
	ID         uuid.UUID
	Time       time.Duration
	Duration   time.Duration
	MediaRange *ByteRange
	IndexRange *ByteRange
	IsInit     bool
}

// End returns the segment's end time (Time + Duration).
func (s Segment) End() time.Duration {
	return s.Time + s.Duration
}

// Valid rejects degenerate segments: a segment with end <= start
// (equivalently duration <= 0) must never be appended.
func (s Segment) Valid() bool {
	return s.Duration > 0
}

// Indexer maps time ranges to segment descriptors for one Representation.
// Implementations are provided by the external manifest parser; the
// module ships sliceIndexer as the in-memory reference implementation used
// by tests and by manifests built programmatically (e.g. cmd/streamplayd).
type Indexer interface {
	// SegmentForTime returns the segment covering t, if any.
	SegmentForTime(t time.Duration) (Segment, bool)
	// SegmentAfter returns the first segment starting at or after t.
	SegmentAfter(t time.Duration) (Segment, bool)
	// Segments returns every non-init segment in time order.
	Segments() []Segment
}

// sliceIndexer is a simple in-memory Indexer backed by a sorted slice.
type sliceIndexer struct {
	segments []Segment
}

// NewSliceIndexer builds an Indexer from an unsorted set of segments.
func NewSliceIndexer(segments []Segment) Indexer {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })
	return &sliceIndexer{segments: sorted}
}

func (idx *sliceIndexer) SegmentForTime(t time.Duration) (Segment, bool) {
	for _, seg := range idx.segments {
		if t >= seg.Time && t < seg.End() {
			return seg, true
		}
	}
	return Segment{}, false
}

func (idx *sliceIndexer) SegmentAfter(t time.Duration) (Segment, bool) {
	for _, seg := range idx.segments {
		if seg.Time >= t {
			return seg, true
		}
	}
	return Segment{}, false
}

func (idx *sliceIndexer) Segments() []Segment {
	out := make([]Segment, len(idx.segments))
	copy(out, idx.segments)
	return out
}

// Representation is a concrete encoding (bitrate/codec) within an Adaptation.
type Representation struct {
	ID          uuid.UUID
	Bitrate     int64
	Width       int // pixel width; zero for non-video representations
	MimeType    string
	Codecs      string
	InitSegment *Segment
	Indexer     Indexer
}

// Adaptation is a selectable variant group (language, role) for a track
// type within a period. Must be non-empty (at least one Representation).
type Adaptation struct {
	ID              uuid.UUID
	Type            TrackType
	Representations []*Representation
}

// RepresentationByID looks up a representation within this adaptation.
func (a *Adaptation) RepresentationByID(id uuid.UUID) (*Representation, bool) {
	for _, r := range a.Representations {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Period is a contiguous time interval of the presentation with a fixed
// adaptation set. Periods are non-overlapping and ordered by Start.
type Period struct {
	ID          string
	Start       time.Duration
	HasDuration bool
	Duration    time.Duration
	Adaptations map[TrackType][]*Adaptation
}

// End returns Start+Duration, or DurationUnbounded if the period has no
// known duration (live, still-open period).
func (p *Period) End() time.Duration {
	if !p.HasDuration {
		return DurationUnbounded
	}
	return p.Start + p.Duration
}

// Contains reports whether t falls within [Start, End).
func (p *Period) Contains(t time.Duration) bool {
	return t >= p.Start && t < p.End()
}

// FirstAdaptation returns the first adaptation of the given type, if any.
func (p *Period) FirstAdaptation(track TrackType) (*Adaptation, bool) {
	ads := p.Adaptations[track]
	if len(ads) == 0 {
		return nil, false
	}
	return ads[0], true
}

// Manifest is an immutable per-fetch snapshot containing an ordered
// sequence of Periods.
type Manifest struct {
	URL     string
	IsLive  bool
	Periods []*Period
}

// GetDuration returns the manifest's total duration: the last period's End,
// or DurationUnbounded if the manifest has no periods or the last period is
// still open.
func (m *Manifest) GetDuration() time.Duration {
	if len(m.Periods) == 0 {
		return DurationUnbounded
	}
	return m.Periods[len(m.Periods)-1].End()
}

// GetURL returns the manifest's source URL.
func (m *Manifest) GetURL() string {
	return m.URL
}

// GetPeriodForTime returns the period containing t, if any.
func (m *Manifest) GetPeriodForTime(t time.Duration) (*Period, bool) {
	for _, p := range m.Periods {
		if p.Contains(t) {
			return p, true
		}
	}
	return nil, false
}

// PeriodByID looks up a period by its stable identifier.
func (m *Manifest) PeriodByID(id string) (*Period, bool) {
	for _, p := range m.Periods {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// NextPeriod returns the period immediately following the one with the
// given ID, if any (used by the orchestrator's period-transition step).
func (m *Manifest) NextPeriod(afterID string) (*Period, bool) {
	for i, p := range m.Periods {
		if p.ID == afterID && i+1 < len(m.Periods) {
			return m.Periods[i+1], true
		}
	}
	return nil, false
}
