package overlay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streamplay/streamplay/internal/bookkeeper"
	"github.com/streamplay/streamplay/internal/segment"
)

// Decoder turns one fetched segment chunk into a renderable Element
// covering the segment's time range.
type Decoder func(chunk segment.ParsedChunk) (Element, error)

// BufferSink adapts a Sink to the Adaptation Buffer's Sink contract,
// decoding each appended chunk into a renderable Element and feeding it
// into the ledger OnTick selects from, rather than storing it as opaque
// media bytes the way surface.MemorySink does for audio/video.
type BufferSink struct {
	sink   *Sink
	decode Decoder

	mu       sync.Mutex
	elements map[string]Element // keyed by segment ID string
}

// NewBufferSink builds a BufferSink wrapping sink, decoding appended
// chunks with decode.
func NewBufferSink(sink *Sink, decode Decoder) *BufferSink {
	return &BufferSink{sink: sink, decode: decode, elements: make(map[string]Element)}
}

// Append decodes chunk into an Element and republishes the sink's full
// element ledger.
func (b *BufferSink) Append(ctx context.Context, chunk segment.ParsedChunk) error {
	el, err := b.decode(chunk)
	if err != nil {
		return fmt.Errorf("overlay: decode element: %w", err)
	}

	b.mu.Lock()
	b.elements[chunk.Segment.ID.String()] = el
	b.mu.Unlock()
	b.sink.SetElements(b.snapshotLocked())
	return nil
}

// BufferedRanges reports each held element's time span, letting the
// Ledger track overlay coverage the same way it tracks media coverage.
func (b *BufferSink) BufferedRanges() []bookkeeper.BufferedRange {
	b.mu.Lock()
	defer b.mu.Unlock()
	ranges := make([]bookkeeper.BufferedRange, 0, len(b.elements))
	for _, e := range b.elements {
		ranges = append(ranges, bookkeeper.BufferedRange{Start: e.Start.Seconds(), End: e.End.Seconds()})
	}
	return ranges
}

// GC drops elements entirely outside [keepStart, keepEnd).
func (b *BufferSink) GC(ctx context.Context, keepStart, keepEnd time.Duration) error {
	b.mu.Lock()
	for id, e := range b.elements {
		if e.End <= keepStart || e.Start >= keepEnd {
			delete(b.elements, id)
		}
	}
	snapshot := b.snapshotLocked()
	b.mu.Unlock()
	b.sink.SetElements(snapshot)
	return nil
}

func (b *BufferSink) snapshotLocked() []Element {
	all := make([]Element, 0, len(b.elements))
	for _, e := range b.elements {
		all = append(all, e)
	}
	return all
}
