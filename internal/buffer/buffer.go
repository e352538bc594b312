// Package buffer implements the Adaptation Buffer: the core
// per-(period,track) state machine that picks segments needed for a
// wanted range, feeds the sink, honors garbage-collect windows, and
// switches representation on ABR decisions — a mutex-guarded status field
// driving a for-loop over explicit states, with cancellation checked via
// context.Canceled at each iteration.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streamplay/streamplay/internal/abr"
	"github.com/streamplay/streamplay/internal/bookkeeper"
	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/segment"
)

// State is the Adaptation Buffer's current phase.
type State int

// Buffer states.
const (
	StateIdle State = iota
	StateSelecting
	StateFetching
	StateAppending
	StateFilled
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateFetching:
		return "fetching"
	case StateAppending:
		return "appending"
	case StateFilled:
		return "filled"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// EventKind tags the Buffer's output events.
type EventKind string

// Output event kinds.
const (
	EventSegmentsQueued     EventKind = "segments-queued"
	EventFilled             EventKind = "filled"
	EventFinished           EventKind = "finished"
	EventNeedsDiscontinuity EventKind = "needs-discontinuity"
	EventWarning            EventKind = "warning"
)

// Event is one Buffer output.
type Event struct {
	Kind        EventKind
	WantedStart time.Duration
	WantedEnd   time.Duration
	Message     string
}

// Sink is the append target this Buffer feeds — implemented by a
// surface.Sink adapter.
type Sink interface {
	Append(ctx context.Context, chunk segment.ParsedChunk) error
	BufferedRanges() []bookkeeper.BufferedRange
	GC(ctx context.Context, keepStart, keepEnd time.Duration) error
}

// Config parameterizes a Buffer.
type Config struct {
	Period            *manifest.Period
	TrackType         manifest.TrackType
	WantedBufferAhead time.Duration
	MaxBufferAhead    time.Duration
	MaxBufferBehind   time.Duration
	Sink              Sink
	Ledger            *bookkeeper.Ledger
	ABR               *abr.Coordinator
	Pipelines         map[string]*segment.Pipeline // keyed by representation ID string
}

// Buffer is the per-(period,track) adaptation buffer.
type Buffer struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	activeRepID         string
	currentInitAppended bool
	events              chan Event
	skipped             map[string]struct{} // segment IDs permanently skipped as degenerate
}

// New builds a Buffer from cfg.
func New(cfg Config) *Buffer {
	return &Buffer{
		cfg:     cfg,
		state:   StateIdle,
		events:  make(chan Event, 32),
		skipped: make(map[string]struct{}),
	}
}

// Events returns the Buffer's output event channel.
func (b *Buffer) Events() <-chan Event {
	return b.events
}

// State returns the Buffer's current phase.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Buffer) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *Buffer) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
	}
}

// Tick drives one iteration of the state machine for the given clock
// position, adaptation candidates (for ABR), and track type. It returns
// when the wanted range is Filled, Finished, or an unrecoverable error
// occurs; callers re-invoke Tick on every clock tick (cooperative
// single-goroutine concurrency model).
func (b *Buffer) Tick(ctx context.Context, currentTime time.Duration, candidates []*manifest.Representation) error {
	wantedStart := currentTime
	wantedEnd := currentTime + b.cfg.WantedBufferAhead
	periodEnd := b.cfg.Period.End()
	if wantedEnd > periodEnd {
		wantedEnd = periodEnd
	}

	b.setState(StateSelecting)
	decision, changed := b.cfg.ABR.Decide(candidates)
	if changed {
		b.handleRepresentationSwitch(decision.Representation)
	}

	rep := b.activeRepresentation(candidates)
	if rep == nil {
		return fmt.Errorf("buffer: no representation selected for track")
	}

	bufferFull := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		entry, covered := b.cfg.Ledger.Get(wantedStart.Seconds())
		_ = entry
		if covered && wantedEnd <= entryEndOrWanted(b.cfg.Ledger, wantedStart, wantedEnd) {
			break
		}

		b.setState(StateFetching)
		seg, ok := b.nextUncoveredSegment(rep, wantedStart, wantedEnd)
		if !ok {
			if b.cfg.Period.End() == manifest.DurationUnbounded {
				b.emit(Event{Kind: EventNeedsDiscontinuity, WantedStart: wantedStart, WantedEnd: wantedEnd})
			}
			break
		}
		if !seg.Valid() {
			b.mu.Lock()
			b.skipped[seg.ID.String()] = struct{}{}
			b.mu.Unlock()
			b.emit(Event{Kind: EventWarning, Message: "segment with end <= start skipped"})
			continue
		}

		pipeline, ok := b.cfg.Pipelines[rep.ID.String()]
		if !ok {
			return fmt.Errorf("buffer: no pipeline for representation %s", rep.ID)
		}

		if !b.currentInitAppended && rep.InitSegment != nil {
			initChunk, err := pipeline.RequestInit(ctx, *rep.InitSegment)
			if err != nil {
				b.emit(Event{Kind: EventWarning, Message: "init segment fetch failed: " + err.Error()})
				return err
			}
			full, err := b.appendLocked(ctx, initChunk, *rep.InitSegment, rep)
			if err != nil {
				return err
			}
			if full {
				bufferFull = true
				break
			}
			b.currentInitAppended = true
		}

		chunk, err := pipeline.Request(ctx, seg)
		if err != nil {
			b.emit(Event{Kind: EventWarning, Message: "segment fetch exhausted retry budget, skipped: " + err.Error()})
			break
		}

		full, err := b.appendLocked(ctx, chunk, seg, rep)
		if err != nil {
			return err
		}
		if full {
			bufferFull = true
			break
		}
		b.emit(Event{Kind: EventSegmentsQueued, WantedStart: wantedStart, WantedEnd: wantedEnd})
	}

	if bufferFull {
		// Quota remains exceeded even after a GC-and-retry attempt;
		// handleQuotaExceeded already emitted the BufferFull warning. Wait
		// for the next Tick rather than claiming the range Filled/Finished.
		return nil
	}

	if wantedEnd >= periodEnd {
		b.setState(StateFinished)
		b.emit(Event{Kind: EventFinished, WantedStart: wantedStart, WantedEnd: wantedEnd})
	} else {
		b.setState(StateFilled)
		b.emit(Event{Kind: EventFilled, WantedStart: wantedStart, WantedEnd: wantedEnd})
	}
	return nil
}

func (b *Buffer) activeRepresentation(candidates []*manifest.Representation) *manifest.Representation {
	b.mu.Lock()
	id := b.activeRepID
	b.mu.Unlock()
	for _, r := range candidates {
		if r.ID.String() == id {
			return r
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return nil
}

// handleRepresentationSwitch records the new active representation and
// requires the next append to re-prepend the new representation's init
// segment.
func (b *Buffer) handleRepresentationSwitch(rep *manifest.Representation) {
	if rep == nil {
		return
	}
	b.mu.Lock()
	b.activeRepID = rep.ID.String()
	b.currentInitAppended = false
	b.mu.Unlock()
}

// appendLocked appends chunk to the sink and records its range in the
// Ledger. It reports full=true (with a nil error) when the sink remains
// over quota even after handleQuotaExceeded's GC-and-retry attempt, so Tick
// can stop this pass instead of refetching the same segment forever.
func (b *Buffer) appendLocked(ctx context.Context, chunk segment.ParsedChunk, seg manifest.Segment, rep *manifest.Representation) (full bool, err error) {
	b.setState(StateAppending)
	if err := b.cfg.Sink.Append(ctx, chunk); err != nil {
		if !isQuotaExceeded(err) {
			return false, fmt.Errorf("buffer: append: %w", err)
		}
		return b.handleQuotaExceeded(ctx, chunk, seg, rep)
	}

	b.insertLedger(seg, rep)
	return false, nil
}

func (b *Buffer) insertLedger(seg manifest.Segment, rep *manifest.Representation) {
	b.cfg.Ledger.Insert(bookkeeper.Entry{
		Start:          seg.Time.Seconds(),
		End:            seg.End().Seconds(),
		Period:         b.cfg.Period.ID,
		Adaptation:     string(b.cfg.TrackType),
		Representation: rep.ID.String(),
		SegmentID:      seg.ID.String(),
	})
}

// handleQuotaExceeded triggers GC within [currentTime-maxBufferBehind,
// currentTime+maxBufferAhead], resynchronizes the Ledger against what the
// sink actually kept, and retries the append once. If the sink is still
// over quota after that retry, it emits a BufferFull warning and reports
// full=true instead of looping on the same segment.
func (b *Buffer) handleQuotaExceeded(ctx context.Context, chunk segment.ParsedChunk, seg manifest.Segment, rep *manifest.Representation) (bool, error) {
	keepStart := seg.Time - b.cfg.MaxBufferBehind
	if keepStart < 0 {
		keepStart = 0
	}
	keepEnd := seg.Time + b.cfg.MaxBufferAhead

	if err := b.cfg.Sink.GC(ctx, keepStart, keepEnd); err != nil {
		b.emit(Event{Kind: EventWarning, Message: "BufferFull: gc failed: " + err.Error()})
		return true, nil
	}
	b.cfg.Ledger.Synchronize(b.cfg.Sink.BufferedRanges())

	if err := b.cfg.Sink.Append(ctx, chunk); err != nil {
		if !isQuotaExceeded(err) {
			return false, fmt.Errorf("buffer: append after gc: %w", err)
		}
		b.emit(Event{Kind: EventWarning, Message: "BufferFull: quota still exceeded after gc"})
		return true, nil
	}

	b.insertLedger(seg, rep)
	return false, nil
}

type quotaExceededError interface {
	QuotaExceeded() bool
}

func isQuotaExceeded(err error) bool {
	qe, ok := err.(quotaExceededError)
	return ok && qe.QuotaExceeded()
}

// ErrQuotaExceeded is a Sink.Append error indicating the underlying store
// is full; Sink implementations return this (or an error satisfying
// quotaExceededError) to trigger GC.
type ErrQuotaExceeded struct{}

func (ErrQuotaExceeded) Error() string       { return "buffer: sink quota exceeded" }
func (ErrQuotaExceeded) QuotaExceeded() bool { return true }

// nextUncoveredSegment returns the first segment overlapping [start, end)
// that neither the Ledger nor the permanently-skipped set already accounts
// for.
func (b *Buffer) nextUncoveredSegment(rep *manifest.Representation, start, end time.Duration) (manifest.Segment, bool) {
	if rep.Indexer == nil {
		return manifest.Segment{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, seg := range rep.Indexer.Segments() {
		if seg.IsInit {
			continue
		}
		if seg.Time >= end || (seg.End() <= start && seg.Time < start) {
			continue
		}
		if _, skipped := b.skipped[seg.ID.String()]; skipped {
			continue
		}
		if _, covered := b.cfg.Ledger.Get(seg.Time.Seconds()); covered {
			continue
		}
		return seg, true
	}
	return manifest.Segment{}, false
}

func entryEndOrWanted(ledger *bookkeeper.Ledger, start, wantedEnd time.Duration) time.Duration {
	entry, ok := ledger.Get(start.Seconds())
	if !ok {
		return start
	}
	return time.Duration(entry.End * float64(time.Second))
}
