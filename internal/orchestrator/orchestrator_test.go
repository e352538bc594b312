package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamplay/streamplay/internal/config"
	"github.com/streamplay/streamplay/internal/events"
	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/protection"
	"github.com/streamplay/streamplay/internal/segment"
	"github.com/streamplay/streamplay/internal/timing"
)

// fakeElement simulates real-time playback: CurrentTime advances with the
// wall clock from the moment SetSource is called, capped at Duration.
type fakeElement struct {
	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	rate     float64
	events   chan ElementEvent
}

func newFakeElement() *fakeElement {
	return &fakeElement{rate: 1, events: make(chan ElementEvent, 8)}
}

func (f *fakeElement) SetSource(url string) error {
	f.mu.Lock()
	f.start = time.Now()
	f.mu.Unlock()
	return nil
}

func (f *fakeElement) ClearSource() error { return nil }

func (f *fakeElement) CurrentTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.start.IsZero() {
		return 0
	}
	elapsed := time.Since(f.start)
	if f.duration > 0 && elapsed > f.duration {
		return f.duration
	}
	return elapsed
}

func (f *fakeElement) Duration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.duration
}

func (f *fakeElement) ReadyState() timing.ReadyState { return timing.ReadyStateEnoughData }
func (f *fakeElement) PlaybackRate() float64         { return f.rate }
func (f *fakeElement) Paused() bool                  { return false }
func (f *fakeElement) Stalled() bool                 { return false }
func (f *fakeElement) BufferedGap() time.Duration    { return 0 }
func (f *fakeElement) SetCurrentTime(time.Duration)  {}
func (f *fakeElement) SetPlaybackRate(r float64) {
	f.mu.Lock()
	f.rate = r
	f.mu.Unlock()
}

func (f *fakeElement) SetDuration(d time.Duration) {
	f.mu.Lock()
	f.duration = d
	f.mu.Unlock()
}

func (f *fakeElement) Events() <-chan ElementEvent { return f.events }

type fakeManifestLoader struct {
	m   *manifest.Manifest
	err error
}

func (f fakeManifestLoader) Load(ctx context.Context, url string) (*manifest.Manifest, error) {
	return f.m, f.err
}

type fakeSegmentLoader struct{}

func (fakeSegmentLoader) Load(ctx context.Context, seg manifest.Segment) ([]byte, error) {
	return []byte("bytes"), nil
}

type fakeSegmentParser struct{}

func (fakeSegmentParser) Parse(ctx context.Context, raw []byte, seg manifest.Segment) (segment.ParsedChunk, error) {
	return segment.ParsedChunk{Data: raw, Segment: seg}, nil
}

func segmentedRepresentation(segDur time.Duration, numSegs int) (*manifest.Representation, time.Duration) {
	var segs []manifest.Segment
	var t time.Duration
	for i := 0; i < numSegs; i++ {
		segs = append(segs, manifest.Segment{ID: uuid.New(), Time: t, Duration: segDur})
		t += segDur
	}
	rep := &manifest.Representation{
		ID:      uuid.New(),
		Bitrate: 1_000_000,
		Indexer: manifest.NewSliceIndexer(segs),
	}
	return rep, t
}

func singlePeriodManifest(segDur time.Duration, numSegs int) *manifest.Manifest {
	rep, total := segmentedRepresentation(segDur, numSegs)
	period := &manifest.Period{
		ID:          "p0",
		HasDuration: true,
		Duration:    total,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep}}},
		},
	}
	return &manifest.Manifest{Periods: []*manifest.Period{period}}
}

func twoPeriodManifest(segDur time.Duration, numSegs int) *manifest.Manifest {
	rep0, total0 := segmentedRepresentation(segDur, numSegs)
	period0 := &manifest.Period{
		ID:          "p0",
		HasDuration: true,
		Duration:    total0,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep0}}},
		},
	}

	rep1, total1 := segmentedRepresentation(segDur, numSegs)
	period1 := &manifest.Period{
		ID:          "p1",
		Start:       total0,
		HasDuration: true,
		Duration:    total1,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep1}}},
		},
	}

	return &manifest.Manifest{Periods: []*manifest.Period{period0, period1}}
}

func testConfig(element *fakeElement, m *manifest.Manifest, bus *events.Bus) Config {
	return Config{
		URL:            "http://example.invalid/manifest",
		Element:        element,
		ManifestLoader: fakeManifestLoader{m: m},
		SegmentLoader:  fakeSegmentLoader{},
		SegmentParser:  fakeSegmentParser{},
		Buffer: config.BufferConfig{
			WantedBufferAhead: config.Duration(2 * time.Second),
			MaxBufferAhead:    config.Duration(4 * time.Second),
			MaxBufferBehind:   config.Duration(2 * time.Second),
		},
		ABR: config.ABRConfig{
			SafetyFactor: 1.0,
			WindowSize:   4,
			SamplePeriod: time.Millisecond,
		},
		Retry: config.RetryConfig{
			TotalRetry: 1,
			RetryDelay: config.Duration(time.Millisecond),
		},
		Playback: config.PlaybackConfig{
			EndOfPlay: config.Duration(300 * time.Millisecond),
		},
		Bus: bus,
	}
}

func drainEvents(sub *events.Subscription) []events.StreamEvent {
	var out []events.StreamEvent
	for {
		select {
		case ev := <-sub.Events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasKind(evs []events.StreamEvent, kind events.Kind) bool {
	for _, ev := range evs {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

// S1: VOD, single period, single representation — plays through to
// end-of-play and tears down cleanly.
func TestOrchestrator_VODSinglePeriodReachesEndOfPlay(t *testing.T) {
	m := singlePeriodManifest(time.Second, 3)
	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	o := New(testConfig(element, m, bus))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.Run(ctx)
	require.NoError(t, err)

	evs := drainEvents(sub)
	assert.True(t, hasKind(evs, events.KindLoaded), "expected a Loaded event")
	assert.True(t, hasKind(evs, events.KindBufferFinished), "expected the track to report Finished before end-of-play")
	assert.False(t, o.surface.IsOpen(), "surface must be closed on exit")
}

// S3: VOD, two periods — once period 0's buffer finishes near its end, the
// orchestrator must spawn period 1 for the same track.
func TestOrchestrator_AdvancesToNextPeriod(t *testing.T) {
	m := twoPeriodManifest(time.Second, 2) // 2s per period, 4s total
	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	cfg := testConfig(element, m, bus)
	cfg.Playback.EndOfPlay = config.Duration(100 * time.Millisecond)
	o := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.Run(ctx)
	require.NoError(t, err)

	evs := drainEvents(sub)
	finishedCount := 0
	for _, ev := range evs {
		if ev.Kind == events.KindBufferFinished {
			finishedCount++
		}
	}
	assert.GreaterOrEqual(t, finishedCount, 2, "expected both periods to report Finished")
}

// S6: a manifest with no period covering the resolved start time is a
// fatal, non-retryable startup error.
func TestOrchestrator_StartingTimeNotFoundIsFatal(t *testing.T) {
	m := singlePeriodManifest(time.Second, 1)
	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	cfg := testConfig(element, m, bus)
	cfg.Playback.StartAt = config.StartAt{Kind: config.StartAtPosition, Value: 999}
	o := New(cfg)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var mediaErr *MediaError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, CodeStartingTimeNotFound, mediaErr.Code)

	evs := drainEvents(sub)
	assert.True(t, hasKind(evs, events.KindFatal))
}

// Manifest-fetch failures are retried and eventually surfaced as a
// fatal NetworkError once the retry budget is exhausted.
func TestOrchestrator_ManifestFetchFailureIsRetriedThenSurfaced(t *testing.T) {
	element := newFakeElement()
	bus := events.NewBus()

	cfg := testConfig(element, nil, bus)
	cfg.ManifestLoader = fakeManifestLoader{err: assertErr{}}
	cfg.Retry = config.RetryConfig{TotalRetry: 2, RetryDelay: config.Duration(time.Millisecond)}
	o := New(cfg)

	err := o.Run(context.Background())
	require.Error(t, err)

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, CodeManifestFetchFailed, netErr.Code)
}

type assertErr struct{}

func (assertErr) Error() string { return "manifest unavailable" }

// S5: a persistentLicense candidate without a LicenseStorage must fail at
// configuration time, before any sink is created — not wait for the first
// `encrypted` element event to surface the same failure mid-playback.
func TestOrchestrator_PersistentLicenseWithoutStorageFailsBeforeAnySink(t *testing.T) {
	m := singlePeriodManifest(time.Second, 3)
	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	cfg := testConfig(element, m, bus)
	cfg.KeySystems = []protection.KeySystemCandidate{
		{Type: "com.example.keysystem", PersistentLicense: true},
	}
	o := New(cfg)

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	var mediaErr *EncryptedMediaError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, CodeInvalidKeySystem, mediaErr.Code)
	assert.ErrorIs(t, err, protection.ErrInvalidKeySystem)

	o.mu.Lock()
	numTracks := len(o.tracks)
	o.mu.Unlock()
	assert.Zero(t, numTracks, "no track sink should have been created before the configuration check failed")

	evs := drainEvents(sub)
	assert.True(t, hasKind(evs, events.KindFatal))
}

// S4: a buffer reporting needs-discontinuity against a live manifest
// triggers a manifest refresh, which publishes ManifestUpdate once the
// refreshed manifest actually differs from the one already loaded.
func TestOrchestrator_LiveBufferGapTriggersManifestRefresh(t *testing.T) {
	m := singlePeriodManifest(time.Second, 3)
	m.IsLive = true

	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	cfg := testConfig(element, m, bus)
	o := New(cfg)
	require.NoError(t, o.harness.Run(context.Background(), o.startup))
	defer o.teardown(context.Background())

	refreshed := singlePeriodManifest(time.Second, 5)
	refreshed.IsLive = true
	loader := &countingManifestLoader{m: refreshed}
	o.cfg.ManifestLoader = loader
	o.cfg.Transport.ManifestRefreshMinGap = config.Duration(time.Hour)

	o.triggerManifestRefresh(context.Background())

	require.Eventually(t, func() bool {
		return loader.calls() == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return hasKind(drainEvents(sub), events.KindManifestUpdate)
	}, time.Second, time.Millisecond)

	// A second gap signal within ManifestRefreshMinGap must not re-fetch.
	o.triggerManifestRefresh(context.Background())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, loader.calls(), "refresh must be throttled within ManifestRefreshMinGap")
}

type countingManifestLoader struct {
	mu sync.Mutex
	n  int
	m  *manifest.Manifest
}

func (c *countingManifestLoader) Load(ctx context.Context, url string) (*manifest.Manifest, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.m, nil
}

func (c *countingManifestLoader) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// manifestWithTextTrack builds a single period carrying both a video track
// (so Run reaches end-of-play) and a text track, for exercising the
// Overlay/Text Sink wiring.
func manifestWithTextTrack(segDur time.Duration, numSegs int) *manifest.Manifest {
	videoRep, total := segmentedRepresentation(segDur, numSegs)
	textRep, _ := segmentedRepresentation(segDur, numSegs)

	period := &manifest.Period{
		ID:          "p0",
		HasDuration: true,
		Duration:    total,
		Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
			manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{videoRep}}},
			manifest.TrackText:  {{ID: uuid.New(), Type: manifest.TrackText, Representations: []*manifest.Representation{textRep}}},
		},
	}
	return &manifest.Manifest{Periods: []*manifest.Period{period}}
}

// A text track routes its Adaptation Buffer through an overlay.Sink (not
// the generic MemorySink every other custom sink uses), so its appended
// cues drive clock-based element selection instead of sitting unreachable.
func TestOrchestrator_TextTrackRoutesThroughOverlaySink(t *testing.T) {
	m := manifestWithTextTrack(time.Second, 2)
	element := newFakeElement()
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	cfg := testConfig(element, m, bus)
	cfg.Playback.EndOfPlay = config.Duration(100 * time.Millisecond)
	cfg.TextTrack.UseCustomSink = true
	o := New(cfg)

	require.NoError(t, o.harness.Run(context.Background(), o.startup))
	defer o.teardown(context.Background())

	o.mu.Lock()
	ts, ok := o.tracks[manifest.TrackText]
	o.mu.Unlock()
	require.True(t, ok, "expected a text track to be spawned")
	require.NotNil(t, ts.overlay, "text track must route through an overlay.Sink, not the generic MemorySink")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, o.loop(ctx))

	evs := drainEvents(sub)
	assert.True(t, hasKind(evs, events.KindBufferFinished))
}
