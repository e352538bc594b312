// Package events implements the StreamEvent bus: the single merged output
// stream the Stream Orchestrator publishes to and every other component
// (ABR, buffers, protection) both feeds and observes through.
package events

import "fmt"

// Kind identifies the tagged variant of a StreamEvent.
type Kind string

// The StreamEvent variants, unchanged from the data model.
const (
	KindManifestChange       Kind = "ManifestChange"
	KindManifestUpdate       Kind = "ManifestUpdate"
	KindAdaptationChange     Kind = "AdaptationChange"
	KindRepresentationChange Kind = "RepresentationChange"
	KindBufferFilled         Kind = "BufferFilled"
	KindBufferFinished       Kind = "BufferFinished"
	KindLoaded               Kind = "Loaded"
	KindSpeed                Kind = "Speed"
	KindStalled              Kind = "Stalled"
	KindWarning              Kind = "Warning"
	KindFatal                Kind = "Fatal"
)

// StreamEvent is the host-facing lifecycle event. Seq is a monotonic ULID
// stamped at publish time so events that land in the same timing tick still
// sort deterministically.
type StreamEvent struct {
	Seq              string
	Kind             Kind
	Track            string // TrackType, empty when not track-scoped
	PeriodID         string
	RepresentationID string
	Speed            float64
	Stalled          bool
	Warning          error
	Fatal            error
	Message          string
}

// Error returns the carried Warning or Fatal error, if any.
func (e StreamEvent) Error() error {
	if e.Fatal != nil {
		return e.Fatal
	}
	return e.Warning
}

func (e StreamEvent) String() string {
	if e.Track != "" {
		return fmt.Sprintf("%s[%s] track=%s", e.Kind, e.Seq, e.Track)
	}
	return fmt.Sprintf("%s[%s]", e.Kind, e.Seq)
}
