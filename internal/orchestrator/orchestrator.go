package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/streamplay/streamplay/internal/abr"
	"github.com/streamplay/streamplay/internal/bookkeeper"
	"github.com/streamplay/streamplay/internal/buffer"
	"github.com/streamplay/streamplay/internal/config"
	"github.com/streamplay/streamplay/internal/events"
	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/overlay"
	"github.com/streamplay/streamplay/internal/protection"
	"github.com/streamplay/streamplay/internal/retry"
	"github.com/streamplay/streamplay/internal/segment"
	"github.com/streamplay/streamplay/internal/surface"
	"github.com/streamplay/streamplay/internal/timing"
	"github.com/streamplay/streamplay/internal/transport"
)

// periodTransitionEpsilon is the lookahead past a buffer's wantedRange.end
// used to locate the next period.
const periodTransitionEpsilon = 2 * time.Second

// ElementEventKind enumerates the presentation element event set consumed
// by the orchestrator.
type ElementEventKind string

// Element event kinds.
const (
	ElementEncrypted      ElementEventKind = "encrypted"
	ElementSeeking        ElementEventKind = "seeking"
	ElementSeeked         ElementEventKind = "seeked"
	ElementEnded          ElementEventKind = "ended"
	ElementLoadedMetadata ElementEventKind = "loadedmetadata"
	ElementCanPlay        ElementEventKind = "canplay"
	ElementWaiting        ElementEventKind = "waiting"
	ElementStalled        ElementEventKind = "stalled"
)

// ElementEvent is one event raised by the presentation element.
type ElementEvent struct {
	Kind         ElementEventKind
	InitDataType string
	InitData     []byte
}

// PresentationElement is the consumed external collaborator: the media
// element + source-extension surface, the timing clock's polled Source,
// and the raw event stream the orchestrator reacts to.
type PresentationElement interface {
	surface.Host
	timing.Source
	SetCurrentTime(time.Duration)
	SetPlaybackRate(float64)
	SetDuration(time.Duration)
	Events() <-chan ElementEvent
}

// ManifestLoader is the consumed manifest transport pair's loader half,
// narrowed to the module's in-memory Manifest type.
type ManifestLoader interface {
	Load(ctx context.Context, url string) (*manifest.Manifest, error)
}

// Config parameterizes an Orchestrator.
type Config struct {
	URL            string
	Element        PresentationElement
	ManifestLoader ManifestLoader
	SegmentLoader  segment.Loader
	SegmentParser  segment.Parser
	// TransportRetryable classifies a segment-fetch error as retryable when
	// the parser itself does not implement segment.RetryableError. Defaults
	// to transport.IsRetryable.
	TransportRetryable func(error) bool

	Buffer    config.BufferConfig
	ABR       config.ABRConfig
	Retry     config.RetryConfig
	Playback  config.PlaybackConfig
	TextTrack config.TextTrackConfig
	Transport config.TransportConfig

	ProtectionEnv               protection.Environment // nil if no key systems configured
	KeySystems                  []protection.KeySystemCandidate
	ShouldUnsetMediaKeysOnClose bool

	Bus    *events.Bus
	Logger *slog.Logger
}

// trackState is the orchestrator's live bookkeeping for one track type:
// the active Adaptation Buffer, its owning period, and the long-lived
// pieces (sink, ABR coordinator) that persist across period transitions.
type trackState struct {
	track      manifest.TrackType
	periodID   string
	buf        *buffer.Buffer
	cancel     context.CancelFunc
	sinkHandle *surface.Sink
	bufSink    buffer.Sink
	overlay    *overlay.Sink // non-nil for text/image tracks; nil for audio/video
	abrCoord   *abr.Coordinator
	codec      string
}

// trackEvent pairs a buffer output event with the track it came from.
type trackEvent struct {
	Track manifest.TrackType
	Event buffer.Event
}

// Orchestrator is the Stream Orchestrator: the single top-level composition
// root. One Orchestrator instance drives one playback session; at most one
// may be active per process (enforced by the Protection Driver's singleton
// guard when key systems are configured).
type Orchestrator struct {
	cfg    Config
	logger *slog.Logger

	surface  *surface.Surface
	manifest *manifest.Handle
	clock    *timing.Clock
	harness  *retry.Harness
	protect  *protection.Driver

	mu     sync.Mutex
	tracks map[manifest.TrackType]*trackState

	bufferEvents chan trackEvent

	refreshGroup singleflight.Group
	refreshMu    sync.Mutex
	lastRefresh  time.Time
}

// New builds an Orchestrator from cfg. No I/O happens until Run is called.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TransportRetryable == nil {
		cfg.TransportRetryable = transport.IsRetryable
	}

	return &Orchestrator{
		cfg:          cfg,
		logger:       cfg.Logger,
		surface:      surface.New(cfg.Element),
		tracks:       make(map[manifest.TrackType]*trackState),
		bufferEvents: make(chan trackEvent, 64),
		harness: retry.New(retry.Config{
			TotalRetry:    cfg.Retry.TotalRetry,
			RetryDelay:    cfg.Retry.RetryDelay.Duration(),
			ResetDelay:    cfg.Retry.ResetDelay.Duration(),
			ShouldRetry:   shouldRetryStartup,
			ErrorSelector: asOtherError,
		}),
	}
}

// Run executes the full startup sequence (opening the Presentation Surface,
// fetching the manifest, and provisioning the first period's buffers and
// protection state, wrapped in the Retry Harness since every step after
// Surface.Open depends on the manifest it fetches) and then drives the
// cooperative single-goroutine control loop until end-of-play, a fatal
// error, or ctx cancellation. Guarantees scoped teardown on every exit path.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.teardown(context.Background())

	if err := o.harness.Run(ctx, o.startup); err != nil {
		// A manifest fetch still failing once the retry budget is spent
		// ends startup, so its NetworkError is marked fatal.
		var netErr *NetworkError
		if errors.Is(err, retry.ErrExhausted) && errors.As(err, &netErr) {
			netErr.Fatal = true
		}
		o.publishFatal(err)
		return err
	}

	o.publish(events.StreamEvent{Kind: events.KindLoaded})
	return o.loop(ctx)
}

func (o *Orchestrator) startup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := o.surface.Open(o.cfg.URL, o.cfg.Playback.WithMediaSource); err != nil {
			return &MediaError{Code: CodeSourceOpenFailed, Cause: err, Fatal: true}
		}
		return nil
	})

	var fetched *manifest.Manifest
	g.Go(func() error {
		m, err := o.cfg.ManifestLoader.Load(gctx, o.cfg.URL)
		if err != nil {
			return &NetworkError{Code: CodeManifestFetchFailed, Cause: err, Fatal: false}
		}
		fetched = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	o.manifest = manifest.NewHandle(fetched)
	o.cfg.Element.SetDuration(fetched.GetDuration())

	initialTime := resolveStartAt(fetched, o.cfg.Playback.StartAt)
	period, ok := fetched.GetPeriodForTime(initialTime)
	if !ok {
		return ErrMediaStartingTimeNotFound
	}

	if len(o.cfg.KeySystems) > 0 {
		if err := validatePersistentLicenseConfig(o.cfg.KeySystems); err != nil {
			return &EncryptedMediaError{Code: CodeInvalidKeySystem, Cause: err, Fatal: true}
		}

		driver, err := protection.New(o.cfg.ProtectionEnv, o.cfg.ShouldUnsetMediaKeysOnClose)
		if err != nil {
			return &EncryptedMediaError{Code: CodeAlreadyActive, Cause: err, Fatal: true}
		}
		o.protect = driver
	}

	for track, adaptations := range period.Adaptations {
		if len(adaptations) == 0 {
			continue
		}
		if err := o.spawnTrack(ctx, period, track); err != nil {
			return err
		}
	}

	o.clock = timing.New(o.cfg.Element, o.cfg.TextTrack.UpdateInterval.Duration())
	return nil
}

// spawnTrack provisions (or reuses) the track's sink, builds the period's
// per-representation pipelines, and starts its Adaptation Buffer.
func (o *Orchestrator) spawnTrack(ctx context.Context, period *manifest.Period, track manifest.TrackType) error {
	adaptation, ok := period.FirstAdaptation(track)
	if !ok || len(adaptation.Representations) == 0 {
		return nil
	}

	o.mu.Lock()
	ts, existing := o.tracks[track]
	o.mu.Unlock()

	codec := codecString(adaptation.Representations[0])

	if !existing {
		sinkHandle, bufSink, ov, err := o.provisionSink(track, codec)
		if err != nil {
			return &MediaError{Code: CodeSourceOpenFailed, Cause: err, Fatal: true}
		}
		ts = &trackState{
			track:      track,
			sinkHandle: sinkHandle,
			bufSink:    bufSink,
			overlay:    ov,
			abrCoord:   o.buildABRCoordinator(track),
			codec:      codec,
		}
	} else if ts.codec != codec {
		// Codec transitions within a single sink are not supported;
		// retire and reprovision instead.
		o.surface.RemoveSink(sinkTypeFor(track))
		if ts.overlay != nil {
			ts.overlay.Abort()
		}
		sinkHandle, bufSink, ov, err := o.provisionSink(track, codec)
		if err != nil {
			return &MediaError{Code: CodeSourceOpenFailed, Cause: err, Fatal: true}
		}
		ts.sinkHandle, ts.bufSink, ts.overlay, ts.codec = sinkHandle, bufSink, ov, codec
	}

	if ts.cancel != nil {
		ts.cancel()
	}
	fwdCtx, cancel := context.WithCancel(ctx)

	pipelines := o.buildPipelines(fwdCtx, adaptation, track, ts.abrCoord)
	buf := buffer.New(buffer.Config{
		Period:            period,
		TrackType:         track,
		WantedBufferAhead: o.cfg.Buffer.WantedBufferAhead.Duration(),
		MaxBufferAhead:    o.cfg.Buffer.MaxBufferAhead.Duration(),
		MaxBufferBehind:   o.cfg.Buffer.MaxBufferBehind.Duration(),
		Sink:              ts.bufSink,
		Ledger:            bookkeeper.New(),
		ABR:               ts.abrCoord,
		Pipelines:         pipelines,
	})

	ts.buf = buf
	ts.periodID = period.ID
	ts.cancel = cancel

	o.mu.Lock()
	o.tracks[track] = ts
	o.mu.Unlock()

	go o.forwardBufferEvents(fwdCtx, track, buf)
	return nil
}

// provisionSink opens the track's Presentation Surface sink and builds the
// Adaptation Buffer's append target for it. Audio/video route through a
// native sink backed by surface.MemorySink; text/image get a custom sink,
// and when TextTrack.UseCustomSink is set their buffer feeds an
// overlay.Sink instead of a MemorySink, so the Overlay Sink's clock-driven
// element selection sees every appended cue/thumbnail.
func (o *Orchestrator) provisionSink(track manifest.TrackType, codec string) (*surface.Sink, buffer.Sink, *overlay.Sink, error) {
	sinkType := sinkTypeFor(track)
	var sink *surface.Sink
	var err error

	switch track {
	case manifest.TrackAudio, manifest.TrackVideo:
		sink, err = o.surface.AddNativeSink(sinkType, codec)
	default:
		sink, err = o.surface.AddCustomSink(sinkType, codec)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	if isOverlayTrack(track) && o.cfg.TextTrack.UseCustomSink {
		ov := overlay.New()
		return sink, overlay.NewBufferSink(ov, overlayDecoderFor(track)), ov, nil
	}

	quota := int(o.cfg.Buffer.SinkQuotaBytes.Bytes())
	return sink, surface.NewMemorySink(sink, quota), nil, nil
}

func isOverlayTrack(track manifest.TrackType) bool {
	return track == manifest.TrackText || track == manifest.TrackImage
}

// overlayDecoderFor selects how a fetched chunk becomes a renderable
// overlay.Element: image tracks decode the chunk as a still image, text
// tracks are kept as raw cue bytes (the presentation element's text
// renderer interprets the format, e.g. WebVTT).
func overlayDecoderFor(track manifest.TrackType) overlay.Decoder {
	if track == manifest.TrackImage {
		return func(chunk segment.ParsedChunk) (overlay.Element, error) {
			return overlay.DecodeImageElement(chunk.Segment.ID.String(), chunk.Segment.Time, chunk.Segment.End(), chunk.Data)
		}
	}
	return func(chunk segment.ParsedChunk) (overlay.Element, error) {
		return overlay.Element{
			ID:    chunk.Segment.ID.String(),
			Start: chunk.Segment.Time,
			End:   chunk.Segment.End(),
			Data:  chunk.Data,
		}, nil
	}
}

func (o *Orchestrator) buildABRCoordinator(track manifest.TrackType) *abr.Coordinator {
	c := abr.New(abr.Config{
		SafetyFactor: o.cfg.ABR.SafetyFactor,
		Debounce:     o.cfg.ABR.Debounce.Duration(),
		WindowSize:   o.cfg.ABR.WindowSize,
		SamplePeriod: o.cfg.ABR.SamplePeriod.Duration(),
	})
	key := string(track)
	if bps, ok := o.cfg.ABR.ManualBitrates[key]; ok {
		c.SetManualBitrate(bps)
	}
	if bps, ok := o.cfg.ABR.Throttle[key]; ok {
		c.SetThrottle(bps)
	}
	if bps, ok := o.cfg.ABR.MaxAutoBitrates[key]; ok {
		c.SetMaxAutoBitrate(bps)
	}
	if w, ok := o.cfg.ABR.LimitWidth[key]; ok {
		c.SetLimitWidth(w)
	}
	return c
}

func (o *Orchestrator) buildPipelines(ctx context.Context, adaptation *manifest.Adaptation, track manifest.TrackType, abrCoord *abr.Coordinator) map[string]*segment.Pipeline {
	out := make(map[string]*segment.Pipeline, len(adaptation.Representations))
	for _, rep := range adaptation.Representations {
		pipeline := segment.New(segment.Config{
			Track:          string(track),
			Representation: rep.ID.String(),
			Loader:         o.cfg.SegmentLoader,
			Parser:         o.cfg.SegmentParser,
			Retry: retry.Config{
				TotalRetry:  o.cfg.Retry.TotalRetry,
				RetryDelay:  o.cfg.Retry.RetryDelay.Duration(),
				ResetDelay:  o.cfg.Retry.ResetDelay.Duration(),
				ShouldRetry: segment.ShouldRetryFetch(o.cfg.TransportRetryable),
			},
		})
		out[rep.ID.String()] = pipeline
		go feedBandwidthTracker(ctx, pipeline, abrCoord)
	}
	return out
}

// feedBandwidthTracker drains a pipeline's fetch-progress stream into the
// track's ABR Coordinator, giving Decide a live throughput estimate.
func feedBandwidthTracker(ctx context.Context, pipeline *segment.Pipeline, abrCoord *abr.Coordinator) {
	var lastLoaded int64
	for {
		select {
		case <-ctx.Done():
			return
		case prog, ok := <-pipeline.Progress():
			if !ok {
				return
			}
			if prog.Done {
				lastLoaded = 0
				continue
			}
			delta := prog.BytesLoaded - lastLoaded
			if delta > 0 {
				abrCoord.Tracker().Observe(uint64(delta))
			}
			lastLoaded = prog.BytesLoaded
		}
	}
}

func (o *Orchestrator) forwardBufferEvents(ctx context.Context, track manifest.TrackType, buf *buffer.Buffer) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-buf.Events():
			if !ok {
				return
			}
			select {
			case o.bufferEvents <- trackEvent{Track: track, Event: ev}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// loop is the cooperative single-goroutine control loop: every
// cross-component input arrives as a channel receive here, and only this
// goroutine mutates orchestrator state.
func (o *Orchestrator) loop(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	clockCh, unsubClock := o.clock.Subscribe(8)
	defer unsubClock()
	go o.clock.Run(loopCtx)

	elementEvents := o.cfg.Element.Events()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case tick := <-clockCh:
			if done, err := o.onTick(loopCtx, tick); err != nil {
				o.publishFatal(err)
				return err
			} else if done {
				return nil
			}

		case ev := <-elementEvents:
			if err := o.onElementEvent(loopCtx, ev); err != nil {
				o.publishFatal(err)
				return err
			}

		case te := <-o.bufferEvents:
			if err := o.onBufferEvent(loopCtx, te); err != nil {
				o.publishFatal(err)
				return err
			}
		}
	}
}

func (o *Orchestrator) onTick(ctx context.Context, tick timing.Tick) (bool, error) {
	o.publish(events.StreamEvent{Kind: events.KindSpeed, Speed: tick.PlaybackRate})
	if tick.Stalled {
		o.publish(events.StreamEvent{Kind: events.KindStalled, Stalled: true})
	}

	if tick.Duration != manifest.DurationUnbounded &&
		tick.Duration-tick.CurrentTime < o.cfg.Playback.EndOfPlay.Duration() {
		return true, nil
	}

	if o.protect != nil && o.protect.State() < protection.StateConfigured {
		return false, nil // first append gated on protection reaching Configured
	}

	period := o.manifest.Load()
	o.mu.Lock()
	snapshot := make([]*trackState, 0, len(o.tracks))
	for _, ts := range o.tracks {
		snapshot = append(snapshot, ts)
	}
	o.mu.Unlock()

	for _, ts := range snapshot {
		p, ok := period.PeriodByID(ts.periodID)
		if !ok {
			continue
		}
		adaptation, ok := p.FirstAdaptation(ts.track)
		if !ok {
			continue
		}
		// Folding pending bytes every tick rather than on the configured
		// SamplePeriod is a simplification; the tick rate (>=4Hz) is
		// already finer-grained than any reasonable sample period.
		ts.abrCoord.Tracker().Sample()
		if err := ts.buf.Tick(ctx, tick.CurrentTime, adaptation.Representations); err != nil {
			return false, fmt.Errorf("orchestrator: track %s tick: %w", ts.track, err)
		}
		if ts.overlay != nil {
			ts.overlay.OnTick(tick.CurrentTime, o.overlayEpsilon())
		}
	}
	return false, nil
}

// overlayEpsilon derives the clock-driven element-selection epsilon from
// the configured tick interval (falling back to the clock's floor rate).
func (o *Orchestrator) overlayEpsilon() time.Duration {
	interval := o.cfg.TextTrack.UpdateInterval.Duration()
	if interval <= 0 {
		interval = timing.MinTickPeriod
	}
	return overlay.Epsilon(interval)
}

func (o *Orchestrator) onElementEvent(ctx context.Context, ev ElementEvent) error {
	switch ev.Kind {
	case ElementSeeking, ElementSeeked:
		o.clock.NotifySeek()
	case ElementEncrypted:
		if o.protect == nil {
			return nil
		}
		if err := o.protect.HandleEncrypted(ctx, o.cfg.KeySystems, ev.InitDataType, ev.InitData); err != nil {
			return &EncryptedMediaError{Code: CodeProtectionFailed, Cause: err, Fatal: true}
		}
	case ElementLoadedMetadata:
		o.surface.MarkPastMetadata()
	case ElementEnded:
		return nil
	}
	return nil
}

func (o *Orchestrator) onBufferEvent(ctx context.Context, te trackEvent) error {
	switch te.Event.Kind {
	case buffer.EventFilled:
		o.publish(events.StreamEvent{Kind: events.KindBufferFilled, Track: string(te.Track)})
		return o.maybeAdvancePeriod(ctx, te)
	case buffer.EventFinished:
		o.publish(events.StreamEvent{Kind: events.KindBufferFinished, Track: string(te.Track)})
		return o.maybeAdvancePeriod(ctx, te)
	case buffer.EventWarning:
		o.publish(events.StreamEvent{Kind: events.KindWarning, Track: string(te.Track), Message: te.Event.Message})
	case buffer.EventNeedsDiscontinuity:
		o.triggerManifestRefresh(ctx)
	}
	return nil
}

// triggerManifestRefresh asynchronously refetches the manifest when a
// buffer reports a live-edge gap (needs-discontinuity), throttled to one
// refresh in flight at a time via singleflight and rate-limited by
// cfg.Transport.ManifestRefreshMinGap. A no-op against a non-live manifest.
func (o *Orchestrator) triggerManifestRefresh(ctx context.Context) {
	if !o.manifest.Load().IsLive {
		return
	}

	o.refreshMu.Lock()
	minGap := o.cfg.Transport.ManifestRefreshMinGap.Duration()
	if !o.lastRefresh.IsZero() && time.Since(o.lastRefresh) < minGap {
		o.refreshMu.Unlock()
		return
	}
	o.lastRefresh = time.Now()
	o.refreshMu.Unlock()

	go func() {
		v, err, _ := o.refreshGroup.Do("manifest-refresh", func() (any, error) {
			return o.cfg.ManifestLoader.Load(ctx, o.cfg.URL)
		})
		if err != nil {
			o.logger.Warn("live manifest refresh failed", slog.String("error", err.Error()))
			return
		}

		before := o.manifest.Version()
		o.manifest.Update(v.(*manifest.Manifest))
		if o.manifest.Version() != before {
			o.publish(events.StreamEvent{Kind: events.KindManifestUpdate})
		}
	}()
}

// maybeAdvancePeriod handles a filled|finished buffer event by looking up
// the next period at wantedRange.end+epsilon and spawning it for this
// track if found and not already current.
func (o *Orchestrator) maybeAdvancePeriod(ctx context.Context, te trackEvent) error {
	probe := te.Event.WantedEnd + periodTransitionEpsilon
	next, ok := o.manifest.Load().GetPeriodForTime(probe)
	if !ok {
		return nil
	}

	o.mu.Lock()
	ts, exists := o.tracks[te.Track]
	o.mu.Unlock()
	if exists && ts.periodID == next.ID {
		return nil
	}

	return o.spawnTrack(ctx, next, te.Track)
}

func (o *Orchestrator) publish(ev events.StreamEvent) {
	if o.cfg.Bus != nil {
		o.cfg.Bus.Publish(ev)
	}
}

func (o *Orchestrator) publishFatal(err error) {
	o.publish(events.StreamEvent{Kind: events.KindFatal, Fatal: err, Message: err.Error()})
}

// teardown guarantees scoped cleanup on every exit path: element src
// cleared, object URL revoked, all sinks aborted, ProtectionState cleared.
func (o *Orchestrator) teardown(ctx context.Context) {
	o.mu.Lock()
	for _, ts := range o.tracks {
		if ts.cancel != nil {
			ts.cancel()
		}
		if ts.overlay != nil {
			ts.overlay.Abort()
		}
	}
	o.mu.Unlock()

	if o.protect != nil {
		if err := o.protect.Dispose(ctx); err != nil {
			o.logger.Warn("protection dispose failed", slog.String("error", err.Error()))
		}
	}
	if err := o.surface.Close(); err != nil {
		o.logger.Warn("surface close failed", slog.String("error", err.Error()))
	}
}

// validatePersistentLicenseConfig fails at configuration time, before any
// sink is created, when a candidate requests persistentLicense without
// supplying the license storage pair it requires — rather than waiting for
// the first `encrypted` event to surface the same failure after playback
// has already provisioned sinks for the period.
func validatePersistentLicenseConfig(candidates []protection.KeySystemCandidate) error {
	for _, c := range candidates {
		if c.PersistentLicense && c.LicenseStorage == nil {
			return fmt.Errorf("%w: persistentLicense requires licenseStorage for key system %q", protection.ErrInvalidKeySystem, c.Type)
		}
	}
	return nil
}

func sinkTypeFor(track manifest.TrackType) surface.SinkType {
	return surface.SinkType(track)
}

func codecString(rep *manifest.Representation) string {
	if rep.MimeType == "" {
		return rep.Codecs
	}
	if rep.Codecs == "" {
		return rep.MimeType
	}
	return fmt.Sprintf("%s;codecs=%q", rep.MimeType, rep.Codecs)
}

// resolveStartAt computes the initial playback time from the configured
// StartAt policy.
func resolveStartAt(m *manifest.Manifest, cfg config.StartAt) time.Duration {
	valueSeconds := time.Duration(cfg.Value * float64(time.Second))

	switch cfg.Kind {
	case config.StartAtWallClockTime:
		// Wall-clock-to-position mapping is a platform capability this
		// module delegates to the manifest/parser; treated as an
		// absolute position here.
		return valueSeconds
	case config.StartAtFromFirstPosition:
		var first time.Duration
		if len(m.Periods) > 0 {
			first = m.Periods[0].Start
		}
		return first + valueSeconds
	case config.StartAtFromLastPosition:
		dur := m.GetDuration()
		if dur == manifest.DurationUnbounded {
			dur = 0
		}
		return dur - valueSeconds
	case config.StartAtPercentage:
		dur := m.GetDuration()
		if dur == manifest.DurationUnbounded {
			dur = 0
		}
		return time.Duration(float64(dur) * cfg.Value / 100)
	default: // config.StartAtPosition
		return valueSeconds
	}
}
