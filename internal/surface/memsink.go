package surface

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/streamplay/streamplay/internal/bookkeeper"
	"github.com/streamplay/streamplay/internal/segment"
)

// QuotaExceededError is returned by MemorySink.Append when appending would
// exceed the configured quota. It satisfies the buffer package's
// unexported quotaExceededError interface (QuotaExceeded() bool) by
// structural typing, without either package importing the other.
type QuotaExceededError struct{}

func (QuotaExceededError) Error() string       { return "surface: sink quota exceeded" }
func (QuotaExceededError) QuotaExceeded() bool { return true }

type chunkRecord struct {
	start time.Duration
	end   time.Duration
	bytes int
}

// MemorySink is the in-process append target backing a custom or
// fake-native Sink: an ordered byte-range ledger plus a quota, standing in
// for the platform's real source-extension buffer so the Adaptation
// Buffer (internal/buffer) has something concrete to append to, garbage
// collect, and query buffered ranges from — in-memory ring accounting
// adapted from byte-count eviction to the Adaptation Buffer's GC-window
// contract.
type MemorySink struct {
	sink *Sink

	mu        sync.Mutex
	records   []chunkRecord
	totalSize int
	quota     int
}

// NewMemorySink wraps sink with an in-memory store bounded by quotaBytes
// (0 means unlimited).
func NewMemorySink(sink *Sink, quotaBytes int) *MemorySink {
	return &MemorySink{sink: sink, quota: quotaBytes}
}

// Append records chunk's byte range, failing with QuotaExceededError if the
// sink is already at (or would exceed) its quota.
func (m *MemorySink) Append(ctx context.Context, chunk segment.ParsedChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sink != nil && m.sink.Aborted() {
		return fmt.Errorf("surface: append to aborted sink")
	}

	size := len(chunk.Data)
	if m.quota > 0 && m.totalSize+size > m.quota {
		return QuotaExceededError{}
	}

	m.records = append(m.records, chunkRecord{
		start: chunk.Segment.Time,
		end:   chunk.Segment.End(),
		bytes: size,
	})
	m.totalSize += size
	return nil
}

// BufferedRanges returns the coalesced set of time ranges currently held,
// for bookkeeper.Ledger.Synchronize.
func (m *MemorySink) BufferedRanges() []bookkeeper.BufferedRange {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) == 0 {
		return nil
	}

	sorted := make([]chunkRecord, len(m.records))
	copy(sorted, m.records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	ranges := make([]bookkeeper.BufferedRange, 0, len(sorted))
	cur := bookkeeper.BufferedRange{Start: sorted[0].start.Seconds(), End: sorted[0].end.Seconds()}
	for _, r := range sorted[1:] {
		if r.start.Seconds() <= cur.End {
			if r.end.Seconds() > cur.End {
				cur.End = r.end.Seconds()
			}
			continue
		}
		ranges = append(ranges, cur)
		cur = bookkeeper.BufferedRange{Start: r.start.Seconds(), End: r.end.Seconds()}
	}
	ranges = append(ranges, cur)
	return ranges
}

// GC evicts every record entirely outside [keepStart, keepEnd), as part of
// the BufferFull recovery window.
func (m *MemorySink) GC(ctx context.Context, keepStart, keepEnd time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0:0]
	freed := 0
	for _, r := range m.records {
		if r.end <= keepStart || r.start >= keepEnd {
			freed += r.bytes
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	m.totalSize -= freed
	return nil
}
