// Package overlay implements the Overlay/Text Sink: a custom sink variant
// maintaining a per-time-range ledger of renderable elements, selecting
// the active element off a clock tick within an epsilon window — a
// registry-by-key shape (elements keyed by time range, looked up on each
// tick) combined with a subscriber/broadcast idiom adapted from progress
// events to attach/detach notifications for a single active renderable
// element.
package overlay

import (
	"sort"
	"sync"
	"time"
)

// Element is one renderable, time-bounded overlay item (a text cue or
// timed image).
type Element struct {
	ID    string
	Start time.Duration
	End   time.Duration
	Data  any
}

func (e Element) contains(t time.Duration) bool {
	return t >= e.Start && t < e.End
}

func (e Element) equal(o Element) bool {
	return e.ID == o.ID && e.Start == o.Start && e.End == o.End
}

// AttachEvent is published whenever the active element changes.
type AttachEvent struct {
	Previous *Element
	Current  *Element
}

// Sink is the custom overlay/text sink. Zero value is not usable; use New.
type Sink struct {
	mu       sync.Mutex
	elements []Element
	active   *Element

	subMu sync.Mutex
	subs  map[int]chan AttachEvent
	next  int
}

// New builds an empty Sink.
func New() *Sink {
	return &Sink{subs: make(map[int]chan AttachEvent)}
}

// SetElements replaces the ledger of renderable elements, e.g. from a
// manifest's text/image track or a supplementaryTextTracks augment.
func (s *Sink) SetElements(elements []Element) {
	sorted := make([]Element, len(elements))
	copy(sorted, elements)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	s.mu.Lock()
	s.elements = sorted
	s.mu.Unlock()
}

// Events returns a channel of attach/detach notifications.
func (s *Sink) Events() (<-chan AttachEvent, func()) {
	ch := make(chan AttachEvent, 8)
	s.subMu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if sub, ok := s.subs[id]; ok {
			close(sub)
			delete(s.subs, id)
		}
	}
}

// Epsilon computes the selection epsilon for a given clock tick interval:
// ε = interval/3000, spreading floating error across sub-intervals rather
// than using a single fixed constant.
func Epsilon(interval time.Duration) time.Duration {
	return interval / 3000
}

// OnTick selects the element active at currentTime (offset by -epsilon) and
// switches to it if different from the currently attached element,
// removing the previous element before attaching the new one. A no-op if
// the selected element is unchanged.
func (s *Sink) OnTick(currentTime time.Duration, epsilon time.Duration) {
	probe := currentTime - epsilon
	if probe < 0 {
		probe = 0
	}

	s.mu.Lock()
	var selected *Element
	for i := range s.elements {
		if s.elements[i].contains(probe) {
			selected = &s.elements[i]
			break
		}
	}

	if s.active == selected {
		s.mu.Unlock()
		return
	}
	if s.active != nil && selected != nil && s.active.equal(*selected) {
		s.mu.Unlock()
		return
	}

	prev := s.active
	s.active = selected
	s.mu.Unlock()

	s.publish(AttachEvent{Previous: prev, Current: selected})
}

// Active returns the currently attached element, if any.
func (s *Sink) Active() (Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return Element{}, false
	}
	return *s.active, true
}

// Abort removes the currently attached element.
func (s *Sink) Abort() {
	s.mu.Lock()
	prev := s.active
	s.active = nil
	s.mu.Unlock()

	if prev != nil {
		s.publish(AttachEvent{Previous: prev, Current: nil})
	}
}

func (s *Sink) publish(ev AttachEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}
