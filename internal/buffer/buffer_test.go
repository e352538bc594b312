package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamplay/streamplay/internal/abr"
	"github.com/streamplay/streamplay/internal/bookkeeper"
	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/retry"
	"github.com/streamplay/streamplay/internal/segment"
)

type fakeSink struct {
	appended []segment.ParsedChunk
}

func (s *fakeSink) Append(ctx context.Context, chunk segment.ParsedChunk) error {
	s.appended = append(s.appended, chunk)
	return nil
}
func (s *fakeSink) BufferedRanges() []bookkeeper.BufferedRange                     { return nil }
func (s *fakeSink) GC(ctx context.Context, keepStart, keepEnd time.Duration) error { return nil }

// quotaSink rejects the first N Append calls with ErrQuotaExceeded, then
// accepts everything after, simulating a sink that frees enough room on GC.
type quotaSink struct {
	rejectFirst int
	appended    []segment.ParsedChunk
	gcCalls     int
}

func (s *quotaSink) Append(ctx context.Context, chunk segment.ParsedChunk) error {
	if s.rejectFirst > 0 {
		s.rejectFirst--
		return ErrQuotaExceeded{}
	}
	s.appended = append(s.appended, chunk)
	return nil
}
func (s *quotaSink) BufferedRanges() []bookkeeper.BufferedRange { return nil }
func (s *quotaSink) GC(ctx context.Context, keepStart, keepEnd time.Duration) error {
	s.gcCalls++
	return nil
}

// alwaysFullSink never has room, regardless of GC.
type alwaysFullSink struct {
	gcCalls int
}

func (s *alwaysFullSink) Append(ctx context.Context, chunk segment.ParsedChunk) error {
	return ErrQuotaExceeded{}
}
func (s *alwaysFullSink) BufferedRanges() []bookkeeper.BufferedRange { return nil }
func (s *alwaysFullSink) GC(ctx context.Context, keepStart, keepEnd time.Duration) error {
	s.gcCalls++
	return nil
}

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, seg manifest.Segment) ([]byte, error) {
	return []byte("bytes"), nil
}

type fakeParser struct{}

func (fakeParser) Parse(ctx context.Context, raw []byte, seg manifest.Segment) (segment.ParsedChunk, error) {
	return segment.ParsedChunk{Data: raw, Segment: seg}, nil
}

func buildPeriodAndRep(t *testing.T, duration time.Duration) (*manifest.Period, *manifest.Representation) {
	t.Helper()
	segs := []manifest.Segment{
		{ID: uuid.New(), Time: 0, Duration: 4 * time.Second},
		{ID: uuid.New(), Time: 4 * time.Second, Duration: 4 * time.Second},
		{ID: uuid.New(), Time: 8 * time.Second, Duration: 4 * time.Second},
	}
	rep := &manifest.Representation{
		ID:      uuid.New(),
		Bitrate: 1_000_000,
		Indexer: manifest.NewSliceIndexer(segs),
	}
	period := &manifest.Period{
		ID:          "p0",
		HasDuration: true,
		Duration:    duration,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep}}},
		},
	}
	return period, rep
}

func TestBuffer_TickFillsWantedRange(t *testing.T) {
	period, rep := buildPeriodAndRep(t, 30*time.Second)
	sink := &fakeSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 10 * time.Second,
		MaxBufferAhead:    20 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	err := b.Tick(context.Background(), 0, []*manifest.Representation{rep})
	require.NoError(t, err)

	assert.NotEmpty(t, sink.appended)
	assert.Equal(t, StateFilled, b.State())

	var sawFilled bool
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventFilled {
				sawFilled = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawFilled)
}

func TestBuffer_TickReachesFinishedAtPeriodEnd(t *testing.T) {
	period, rep := buildPeriodAndRep(t, 10*time.Second)
	sink := &fakeSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 30 * time.Second,
		MaxBufferAhead:    30 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	err := b.Tick(context.Background(), 0, []*manifest.Representation{rep})
	require.NoError(t, err)
	assert.Equal(t, StateFinished, b.State())
}

func TestBuffer_RepresentationSwitchResetsInitAppended(t *testing.T) {
	period, rep := buildPeriodAndRep(t, 30*time.Second)
	initSeg := manifest.Segment{ID: uuid.New(), IsInit: true, Duration: time.Second}
	rep.InitSegment = &initSeg

	sink := &fakeSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 4 * time.Second,
		MaxBufferAhead:    10 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	err := b.Tick(context.Background(), 0, []*manifest.Representation{rep})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(sink.appended), 1)
}

func TestBuffer_QuotaExceededRetriesOnceThenSucceeds(t *testing.T) {
	period, rep := buildPeriodAndRep(t, 30*time.Second)
	sink := &quotaSink{rejectFirst: 1}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 10 * time.Second,
		MaxBufferAhead:    20 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	err := b.Tick(context.Background(), 0, []*manifest.Representation{rep})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.gcCalls)
	assert.NotEmpty(t, sink.appended)
	assert.Equal(t, StateFilled, b.State())
}

func TestBuffer_QuotaExceededAfterRetryEmitsBufferFullAndStops(t *testing.T) {
	period, rep := buildPeriodAndRep(t, 30*time.Second)
	sink := &alwaysFullSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 10 * time.Second,
		MaxBufferAhead:    20 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := b.Tick(ctx, 0, []*manifest.Representation{rep})
	require.NoError(t, err)
	assert.Equal(t, 1, sink.gcCalls)

	var sawBufferFull bool
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventWarning {
				sawBufferFull = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawBufferFull)
	assert.NotEqual(t, StateFilled, b.State())
	assert.NotEqual(t, StateFinished, b.State())
}

func TestBuffer_DegenerateSegmentSkippedNotInfiniteLoop(t *testing.T) {
	segs := []manifest.Segment{
		{ID: uuid.New(), Time: 0, Duration: 0}, // degenerate: end <= start
		{ID: uuid.New(), Time: 4 * time.Second, Duration: 4 * time.Second},
	}
	rep := &manifest.Representation{
		ID:      uuid.New(),
		Bitrate: 1_000_000,
		Indexer: manifest.NewSliceIndexer(segs),
	}
	period := &manifest.Period{
		ID:          "p0",
		HasDuration: true,
		Duration:    8 * time.Second,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep}}},
		},
	}

	sink := &fakeSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 10 * time.Second,
		MaxBufferAhead:    20 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := b.Tick(ctx, 0, []*manifest.Representation{rep})
	require.NoError(t, err)
	assert.Equal(t, StateFinished, b.State())

	var sawWarning bool
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventWarning {
				sawWarning = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawWarning)
}

func TestBuffer_LiveOpenPeriodGapEmitsNeedsDiscontinuity(t *testing.T) {
	segs := []manifest.Segment{
		{ID: uuid.New(), Time: 0, Duration: 4 * time.Second},
	}
	rep := &manifest.Representation{
		ID:      uuid.New(),
		Bitrate: 1_000_000,
		Indexer: manifest.NewSliceIndexer(segs),
	}
	period := &manifest.Period{
		ID:          "live0",
		HasDuration: false, // open/live period: End() == DurationUnbounded
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep}}},
		},
	}

	sink := &fakeSink{}
	pipeline := segment.New(segment.Config{Loader: fakeLoader{}, Parser: fakeParser{}, Retry: retry.Config{RetryDelay: time.Millisecond}})

	b := New(Config{
		Period:            period,
		TrackType:         manifest.TrackVideo,
		WantedBufferAhead: 30 * time.Second,
		MaxBufferAhead:    60 * time.Second,
		MaxBufferBehind:   10 * time.Second,
		Sink:              sink,
		Ledger:            bookkeeper.New(),
		ABR:               abr.New(abr.Config{SafetyFactor: 1.0}),
		Pipelines:         map[string]*segment.Pipeline{rep.ID.String(): pipeline},
	})

	err := b.Tick(context.Background(), 0, []*manifest.Representation{rep})
	require.NoError(t, err)

	var sawDiscontinuity bool
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventNeedsDiscontinuity {
				sawDiscontinuity = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawDiscontinuity)
}
