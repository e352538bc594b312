// Package player is the top-level facade: it wires configuration, logging,
// the event bus, and a Stream Orchestrator into the single type a host
// (CLI or embedder) drives to play one manifest URL. Grounded on the
// teacher's cmd/tvarr/cmd dependency-construction wiring (runServe's
// repository/service/server composition), generalized from an HTTP-server
// composition root to a single playback-session composition root.
package player

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streamplay/streamplay/internal/config"
	"github.com/streamplay/streamplay/internal/events"
	"github.com/streamplay/streamplay/internal/observability"
	"github.com/streamplay/streamplay/internal/orchestrator"
	"github.com/streamplay/streamplay/internal/protection"
	"github.com/streamplay/streamplay/internal/segment"
	"github.com/streamplay/streamplay/internal/transport"
)

// Config parameterizes a Player. The presentation element, manifest loader,
// and segment loader are externally-supplied collaborators left to the
// host platform and the manifest-parser integration; Player does not
// default them.
type Config struct {
	URL            string
	Element        orchestrator.PresentationElement
	ManifestLoader orchestrator.ManifestLoader
	SegmentLoader  segment.Loader

	// SegmentParser defaults to segment.FMP4Parser{} if nil.
	SegmentParser segment.Parser

	ProtectionEnv               protection.Environment
	KeySystems                  []protection.KeySystemCandidate
	ShouldUnsetMediaKeysOnClose bool

	Settings *config.Config
	Logger   *slog.Logger
}

// Player drives one playback session end to end.
type Player struct {
	logger *slog.Logger
	bus    *events.Bus
	orch   *orchestrator.Orchestrator
}

// New builds a Player from cfg. Settings, Element, ManifestLoader and
// SegmentLoader are required: New returns an error rather than playing with
// undefined tuning or collaborators when any of them is nil.
func New(cfg Config) (*Player, error) {
	if cfg.Settings == nil {
		return nil, fmt.Errorf("player: Settings is required")
	}
	if cfg.Element == nil {
		return nil, fmt.Errorf("player: Element is required")
	}
	if cfg.ManifestLoader == nil {
		return nil, fmt.Errorf("player: ManifestLoader is required")
	}
	if cfg.SegmentLoader == nil {
		return nil, fmt.Errorf("player: SegmentLoader is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(cfg.Settings.Logging)
	}

	segmentParser := cfg.SegmentParser
	if segmentParser == nil {
		segmentParser = segment.FMP4Parser{}
	}

	bus := events.NewBus()

	orch := orchestrator.New(orchestrator.Config{
		URL:                         cfg.URL,
		Element:                     cfg.Element,
		ManifestLoader:              cfg.ManifestLoader,
		SegmentLoader:               cfg.SegmentLoader,
		SegmentParser:               segmentParser,
		TransportRetryable:          transport.IsRetryable,
		Buffer:                      cfg.Settings.Buffer,
		ABR:                         cfg.Settings.ABR,
		Retry:                       cfg.Settings.Retry,
		Playback:                    cfg.Settings.Playback,
		TextTrack:                   cfg.Settings.TextTrack,
		Transport:                   cfg.Settings.Transport,
		ProtectionEnv:               cfg.ProtectionEnv,
		KeySystems:                  cfg.KeySystems,
		ShouldUnsetMediaKeysOnClose: cfg.ShouldUnsetMediaKeysOnClose,
		Bus:                         bus,
		Logger:                      observability.WithComponent(logger, "orchestrator"),
	})

	return &Player{logger: logger, bus: bus, orch: orch}, nil
}

// Run plays the configured URL until end-of-play, a fatal error, or ctx
// cancellation, logging the terminal outcome before returning.
func (p *Player) Run(ctx context.Context) error {
	done := observability.TimedOperation(ctx, p.logger, "play_session")
	defer done()

	err := p.orch.Run(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "playback ended with error",
			slog.String("error", err.Error()),
			slog.Bool("fatal", orchestrator.IsFatal(err)))
		return err
	}
	p.logger.InfoContext(ctx, "playback reached end of play")
	return nil
}

// Events returns a new subscription to the Player's StreamEvent stream.
// Callers must call Unsubscribe when done.
func (p *Player) Events() *events.Subscription {
	return p.bus.Subscribe()
}
