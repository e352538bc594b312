// Package surface implements the Presentation Surface: wraps the
// media element + source-extension lifecycle, provisioning native and
// custom sinks and guaranteeing teardown on every exit path — a
// per-session resource-ownership pattern with a guaranteed-cleanup-on-
// every-path Close().
package surface

import (
	"errors"
	"fmt"
	"sync"
)

// SinkType enumerates the track kinds a Surface can provision a sink for.
type SinkType string

// Supported sink types, mirroring manifest.TrackType.
const (
	SinkAudio SinkType = "audio"
	SinkVideo SinkType = "video"
	SinkText  SinkType = "text"
	SinkImage SinkType = "image"
)

// ErrAlreadyOpen is returned by Open when called twice without an
// intervening Close.
var ErrAlreadyOpen = errors.New("surface: already open")

// ErrNotOpen is returned by sink operations attempted before Open.
var ErrNotOpen = errors.New("surface: not open")

// ErrSinkExists is returned when adding a sink of a type already present.
var ErrSinkExists = errors.New("surface: sink already exists")

// NativeSinkConstraintError is returned when addNativeSink is called after
// the source extension has left the "open" state.
type NativeSinkConstraintError struct {
	Type SinkType
}

func (e *NativeSinkConstraintError) Error() string {
	return fmt.Sprintf("surface: native sink %q requires source-extension open state before HAVE_METADATA", e.Type)
}

// Sink is a provisioned append target for one track type.
type Sink struct {
	Type   SinkType
	Native bool
	Codec  string

	aborted bool
}

// Abort marks the sink's current operation aborted; idempotent.
func (s *Sink) Abort() {
	s.aborted = true
}

// Aborted reports whether Abort has been called.
func (s *Sink) Aborted() bool {
	return s.aborted
}

// Host is the object-URL / src-assignment surface the Surface drives —
// implemented by the concrete presentation element adapter.
type Host interface {
	SetSource(url string) error
	ClearSource() error
}

// Surface owns the lifecycle of an open media source and its sinks.
type Surface struct {
	host Host

	mu           sync.Mutex
	open         bool
	sourceOpen   bool // source extension "open" readyState
	pastMetadata bool
	attachedURL  string
	objectURL    string
	sinks        map[SinkType]*Sink
}

// New builds a Surface bound to host.
func New(host Host) *Surface {
	return &Surface{host: host, sinks: make(map[SinkType]*Sink)}
}

// Open resets the element (aborting prior sinks, revoking any prior object
// URL) then attaches url, either via an object-URL-bound source extension
// (needsMediaSource) or by setting src directly.
func (s *Surface) Open(url string, needsMediaSource bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return ErrAlreadyOpen
	}

	s.resetLocked()

	if err := s.host.SetSource(url); err != nil {
		return fmt.Errorf("surface: set source: %w", err)
	}

	s.open = true
	s.attachedURL = url
	s.sourceOpen = needsMediaSource
	s.pastMetadata = false
	if needsMediaSource {
		s.objectURL = url
	}
	return nil
}

// AttachedURL returns the URL last passed to Open, or "" if not open.
func (s *Surface) AttachedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachedURL
}

// MarkPastMetadata records that playback has reached HAVE_METADATA,
// closing the window in which native sinks may be added.
func (s *Surface) MarkPastMetadata() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pastMetadata = true
}

// AddNativeSink provisions a native (source-extension-backed) sink. Fails
// if the source extension is not in the open state, or playback has
// already reached HAVE_METADATA.
func (s *Surface) AddNativeSink(sinkType SinkType, codec string) (*Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrNotOpen
	}
	if _, exists := s.sinks[sinkType]; exists {
		return nil, ErrSinkExists
	}
	if !s.sourceOpen || s.pastMetadata {
		return nil, &NativeSinkConstraintError{Type: sinkType}
	}

	sink := &Sink{Type: sinkType, Native: true, Codec: codec}
	s.sinks[sinkType] = sink
	return sink, nil
}

// AddCustomSink provisions a custom (in-process) sink — used by text/image
// tracks, with no HAVE_METADATA timing constraint.
func (s *Surface) AddCustomSink(sinkType SinkType, codec string) (*Sink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrNotOpen
	}
	if _, exists := s.sinks[sinkType]; exists {
		return nil, ErrSinkExists
	}

	sink := &Sink{Type: sinkType, Native: false, Codec: codec}
	s.sinks[sinkType] = sink
	return sink, nil
}

// RemoveSink aborts and removes the sink of the given type, if present.
func (s *Surface) RemoveSink(sinkType SinkType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink, ok := s.sinks[sinkType]; ok {
		sink.Abort()
		delete(s.sinks, sinkType)
	}
}

// Sink returns the sink of the given type, if any.
func (s *Surface) Sink(sinkType SinkType) (*Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[sinkType]
	return sink, ok
}

// SinkTypes returns the set of currently provisioned sink types.
func (s *Surface) SinkTypes() []SinkType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SinkType, 0, len(s.sinks))
	for t := range s.sinks {
		out = append(out, t)
	}
	return out
}

// Close tears the surface down: aborts every sink, revokes the object URL,
// clears the element's src. Guaranteed to run on every exit path, and
// idempotent if called when not open.
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resetLocked()
}

func (s *Surface) resetLocked() error {
	for _, sink := range s.sinks {
		sink.Abort()
	}
	s.sinks = make(map[SinkType]*Sink)
	s.objectURL = ""
	s.attachedURL = ""
	s.sourceOpen = false
	s.pastMetadata = false

	wasOpen := s.open
	s.open = false
	if !wasOpen {
		return nil
	}
	if err := s.host.ClearSource(); err != nil {
		return fmt.Errorf("surface: clear source: %w", err)
	}
	return nil
}

// IsOpen reports whether the surface currently holds an open source.
func (s *Surface) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
