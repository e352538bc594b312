// Package segment implements the Segment Pipeline: a per-(track,
// representation) downloader that fetches a segment's bytes via a
// SegmentLoader, hands them to a SegmentParser, and exposes progress for
// the ABR Coordinator to observe in-flight throughput. Grounded on the
// teacher's internal/relay/connection_pool.go single-slot-per-key
// acquisition pattern, generalized from per-host connection slots to a
// single in-flight segment per track, and on internal/httpclient's
// retry/backoff composition via internal/retry.
package segment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streamplay/streamplay/internal/manifest"
	"github.com/streamplay/streamplay/internal/retry"
)

// Loader fetches a segment's raw bytes.
type Loader interface {
	Load(ctx context.Context, seg manifest.Segment) ([]byte, error)
}

// ParsedChunk is the decoded result of a segment fetch, ready for append to
// a sink.
type ParsedChunk struct {
	Data     []byte
	Segment  manifest.Segment
	Metadata map[string]string
}

// Parser turns raw segment bytes into an appendable chunk.
type Parser interface {
	Parse(ctx context.Context, raw []byte, seg manifest.Segment) (ParsedChunk, error)
}

// RetryableError is implemented by parser errors that distinguish
// transient (retryable) failures from unrecoverable ones.
type RetryableError interface {
	error
	Retryable() bool
}

// Progress is a point-in-time snapshot of an in-flight fetch, published on
// the pipeline's progress channel for the ABR Coordinator.
type Progress struct {
	Track          string
	Representation string
	BytesLoaded    int64
	BytesTotal     int64
	Elapsed        time.Duration
	Done           bool
}

// Config parameterizes a Pipeline.
type Config struct {
	Track          string
	Representation string
	Loader         Loader
	Parser         Parser
	Retry          retry.Config
	ProgressBuffer int
}

// Pipeline is the per-(track, representation) segment downloader. At most
// one request is in-flight at a time; starting a new one cancels the prior.
type Pipeline struct {
	track          string
	representation string
	loader         Loader
	parser         Parser
	harness        *retry.Harness
	progress       chan Progress

	mu         sync.Mutex
	cancelPrev context.CancelFunc

	initMu  sync.Mutex
	initSeg *ParsedChunk
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	buf := cfg.ProgressBuffer
	if buf == 0 {
		buf = 16
	}
	return &Pipeline{
		track:          cfg.Track,
		representation: cfg.Representation,
		loader:         cfg.Loader,
		parser:         cfg.Parser,
		harness:        retry.New(cfg.Retry),
		progress:       make(chan Progress, buf),
	}
}

// Progress returns the channel on which in-flight fetch progress is
// published. ABR subscribes to this to estimate bandwidth.
func (p *Pipeline) Progress() <-chan Progress {
	return p.progress
}

// Request fetches one segment, retrying transient failures through
// internal/retry.Harness. Starting a new Request cancels any segment fetch
// already in flight for this pipeline.
func (p *Pipeline) Request(ctx context.Context, seg manifest.Segment) (ParsedChunk, error) {
	p.mu.Lock()
	if p.cancelPrev != nil {
		p.cancelPrev()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	p.cancelPrev = cancel
	p.mu.Unlock()
	defer cancel()

	start := time.Now()
	var result ParsedChunk

	err := p.harness.Run(reqCtx, func(attemptCtx context.Context) error {
		raw, err := p.loader.Load(attemptCtx, seg)
		if err != nil {
			return fmt.Errorf("segment: load: %w", err)
		}
		p.publishProgress(int64(len(raw)), int64(len(raw)), time.Since(start), false)

		chunk, err := p.parser.Parse(attemptCtx, raw, seg)
		if err != nil {
			return fmt.Errorf("segment: parse: %w", err)
		}
		result = chunk
		return nil
	})
	p.publishProgress(0, 0, time.Since(start), true)
	if err != nil {
		return ParsedChunk{}, err
	}
	return result, nil
}

// RequestInit fetches and caches seg's init segment, returning the cached
// chunk on subsequent calls for the same representation (idempotent fetch).
func (p *Pipeline) RequestInit(ctx context.Context, seg manifest.Segment) (ParsedChunk, error) {
	p.initMu.Lock()
	if p.initSeg != nil {
		defer p.initMu.Unlock()
		return *p.initSeg, nil
	}
	p.initMu.Unlock()

	chunk, err := p.Request(ctx, seg)
	if err != nil {
		return ParsedChunk{}, err
	}

	p.initMu.Lock()
	p.initSeg = &chunk
	p.initMu.Unlock()
	return chunk, nil
}

func (p *Pipeline) publishProgress(loaded, total int64, elapsed time.Duration, done bool) {
	prog := Progress{
		Track:          p.track,
		Representation: p.representation,
		BytesLoaded:    loaded,
		BytesTotal:     total,
		Elapsed:        elapsed,
		Done:           done,
	}
	select {
	case p.progress <- prog:
	default:
	}
}

// ShouldRetryFetch is the retry.Config.ShouldRetry predicate wiring a
// Pipeline's transport errors and parser RetryableError results into a
// single transient/fatal split.
func ShouldRetryFetch(transportRetryable func(error) bool) func(error) bool {
	return func(err error) bool {
		var re RetryableError
		if ok := asRetryable(err, &re); ok {
			return re.Retryable()
		}
		return transportRetryable(err)
	}
}

func asRetryable(err error, target *RetryableError) bool {
	for err != nil {
		if re, ok := err.(RetryableError); ok {
			*target = re
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
