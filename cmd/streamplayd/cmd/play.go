package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamplay/streamplay/internal/events"
	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/observability"
	"github.com/streamplay/streamplay/internal/orchestrator"
	"github.com/streamplay/streamplay/internal/player"
	"github.com/streamplay/streamplay/internal/segment"
	"github.com/streamplay/streamplay/internal/timing"
	"github.com/streamplay/streamplay/internal/transport"
)

var playCmd = &cobra.Command{
	Use:   "play <url>",
	Short: "Play a synthetic manifest rooted at <url> and print StreamEvents",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().Int("periods", 1, "number of periods in the synthetic manifest")
	playCmd.Flags().Duration("segment-duration", 4*time.Second, "per-segment duration")
	playCmd.Flags().Int("segments-per-period", 6, "segment count per period")

	mustBindPFlag("demo.periods", playCmd.Flags().Lookup("periods"))
	mustBindPFlag("demo.segment_duration", playCmd.Flags().Lookup("segment-duration"))
	mustBindPFlag("demo.segments_per_period", playCmd.Flags().Lookup("segments-per-period"))
}

func runPlay(_ *cobra.Command, args []string) error {
	url := args[0]

	settings, err := loadSettings()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(settings.Logging)
	observability.SetDefault(logger)

	m := syntheticManifest(
		viper.GetInt("demo.periods"),
		viper.GetInt("demo.segments_per_period"),
		viper.GetDuration("demo.segment_duration"),
	)

	client := transport.New(transport.Config{
		Timeout: settings.Transport.SegmentTimeout.Duration(),
		Logger:  logger,
	})
	segmentLoader := transport.NewHTTPSegmentLoader(client, func(seg manifest.Segment) string {
		return fmt.Sprintf("%s/segments/%s", url, seg.ID)
	})

	p, err := player.New(player.Config{
		URL:            url,
		Element:        newDemoElement(logger),
		ManifestLoader: staticManifestLoader{m: m},
		SegmentLoader:  demoSegmentLoader{fallback: segmentLoader},
		SegmentParser:  segment.FMP4Parser{},
		Settings:       settings,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("building player: %w", err)
	}

	sub := p.Events()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	go printEvents(ctx, sub, logger)

	return p.Run(ctx)
}

func printEvents(ctx context.Context, sub *events.Subscription, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			logger.Info("stream event",
				slog.String("kind", string(ev.Kind)),
				slog.String("track", ev.Track),
				slog.String("message", ev.Message))
		}
	}
}

// staticManifestLoader serves a pre-built in-memory manifest without ever
// touching the network — a stand-in for the external manifest-parser
// integration the host platform otherwise supplies.
type staticManifestLoader struct{ m *manifest.Manifest }

func (l staticManifestLoader) Load(context.Context, string) (*manifest.Manifest, error) {
	return l.m, nil
}

// demoSegmentLoader tries the real HTTPSegmentLoader first, so `play`
// exercises the transport Client's retry/circuit-breaker path against
// whatever URL was given, then falls back to deterministic filler bytes
// when there's no origin server behind it to answer the request.
type demoSegmentLoader struct{ fallback *transport.HTTPSegmentLoader }

func (l demoSegmentLoader) Load(ctx context.Context, seg manifest.Segment) ([]byte, error) {
	if body, err := l.fallback.Load(ctx, seg); err == nil {
		return body, nil
	}
	if seg.IsInit {
		return demoInitSegment(), nil
	}
	return []byte(fmt.Sprintf("segment-%s-filler", seg.ID)), nil
}

// syntheticManifest builds an in-memory VOD manifest with the requested
// period/segment shape, one video adaptation per period.
func syntheticManifest(periodCount, segmentsPerPeriod int, segDur time.Duration) *manifest.Manifest {
	if periodCount < 1 {
		periodCount = 1
	}
	if segmentsPerPeriod < 1 {
		segmentsPerPeriod = 1
	}
	if segDur <= 0 {
		segDur = 4 * time.Second
	}

	periods := make([]*manifest.Period, 0, periodCount)
	var cursor time.Duration
	for i := 0; i < periodCount; i++ {
		segs := make([]manifest.Segment, 0, segmentsPerPeriod)
		var t time.Duration
		for j := 0; j < segmentsPerPeriod; j++ {
			segs = append(segs, manifest.Segment{ID: uuid.New(), Time: t, Duration: segDur})
			t += segDur
		}
		rep := &manifest.Representation{
			ID:          uuid.New(),
			Bitrate:     2_000_000,
			MimeType:    "video/mp4",
			Codecs:      "avc1.640028",
			InitSegment: &manifest.Segment{ID: uuid.New(), IsInit: true},
			Indexer:     manifest.NewSliceIndexer(segs),
		}
		period := &manifest.Period{
			ID:          fmt.Sprintf("p%d", i),
			Start:       cursor,
			HasDuration: true,
			Duration:    t,
			Adaptations: map[manifest.TrackType][]*manifest.Adaptation{
				manifest.TrackVideo: {{ID: uuid.New(), Type: manifest.TrackVideo, Representations: []*manifest.Representation{rep}}},
			},
		}
		periods = append(periods, period)
		cursor += t
	}

	return &manifest.Manifest{URL: "synthetic", Periods: periods}
}

// demoElement simulates a presentation element/media source for local
// smoke-testing: CurrentTime advances with the wall clock once a source is
// set, mirroring the real HTMLMediaElement contract a host element wraps.
type demoElement struct {
	logger *slog.Logger

	mu       sync.Mutex
	start    time.Time
	duration time.Duration
	rate     float64
	events   chan orchestrator.ElementEvent
}

func newDemoElement(logger *slog.Logger) *demoElement {
	return &demoElement{logger: logger, rate: 1, events: make(chan orchestrator.ElementEvent, 8)}
}

func (e *demoElement) SetSource(url string) error {
	e.logger.Info("demo element: source set", slog.String("url", url))
	e.mu.Lock()
	e.start = time.Now()
	e.mu.Unlock()
	return nil
}

func (e *demoElement) ClearSource() error {
	e.logger.Info("demo element: source cleared")
	return nil
}

func (e *demoElement) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.start.IsZero() {
		return 0
	}
	elapsed := time.Duration(float64(time.Since(e.start)) * e.rate)
	if e.duration > 0 && elapsed > e.duration {
		return e.duration
	}
	return elapsed
}

func (e *demoElement) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *demoElement) ReadyState() timing.ReadyState { return timing.ReadyStateEnoughData }

func (e *demoElement) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *demoElement) Paused() bool                 { return false }
func (e *demoElement) Stalled() bool                { return false }
func (e *demoElement) BufferedGap() time.Duration   { return 0 }
func (e *demoElement) SetCurrentTime(time.Duration) {}

func (e *demoElement) SetPlaybackRate(r float64) {
	e.mu.Lock()
	e.rate = r
	e.mu.Unlock()
}

func (e *demoElement) SetDuration(d time.Duration) {
	e.mu.Lock()
	e.duration = d
	e.mu.Unlock()
}

func (e *demoElement) Events() <-chan orchestrator.ElementEvent { return e.events }

// demoInitSegment builds a minimal valid fMP4 init segment (one H.264 video
// track) so segment.FMP4Parser exercises its real parse path against this
// command's synthetic content, rather than always taking the pass-through
// branch.
func demoInitSegment() []byte {
	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        1,
			TimeScale: 90000,
			Codec: &mp4.CodecH264{
				SPS: []byte{0x67, 0x42, 0x00, 0x28, 0xd9, 0x00, 0x78, 0x02, 0x27, 0xe5, 0x9a, 0x80},
				PPS: []byte{0x68, 0xce, 0x3c, 0x80},
			},
		}},
	}
	buf := &seekableBuffer{Buffer: &bytes.Buffer{}}
	if err := init.Marshal(buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

// seekableBuffer adapts bytes.Buffer to io.WriteSeeker so fmp4.Init.Marshal
// (which seeks back to patch box sizes) can write into memory.
type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Write(p []byte) (int, error) {
	if int(s.pos) == s.Buffer.Len() {
		n, err := s.Buffer.Write(p)
		s.pos += int64(n)
		return n, err
	}
	b := s.Buffer.Bytes()
	n := copy(b[s.pos:], p)
	s.pos += int64(n)
	return n, nil
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(s.Buffer.Len()) + offset
	default:
		return 0, fmt.Errorf("invalid whence")
	}
	s.pos = newPos
	return newPos, nil
}
