// Package timing implements the Timing Source: a clock of
// {currentTime, duration, readyState, playbackRate, stalled} ticks driven
// off the Presentation Surface's media-element events, plus seek events —
// a publish/subscribe ticker narrowed to a single periodic+event driven
// clock instead of a multi-stream progress tracker.
package timing

import (
	"context"
	"sync"
	"time"
)

// ReadyState mirrors the presentation element's media-readiness ladder.
type ReadyState int

// Ready states, ordered per the HTML media element readyState ladder this
// domain's Presentation Surface models itself on.
const (
	ReadyStateNothing ReadyState = iota
	ReadyStateMetadata
	ReadyStateCurrentData
	ReadyStateFutureData
	ReadyStateEnoughData
)

// Tick is one snapshot of playback state.
type Tick struct {
	CurrentTime  time.Duration
	Duration     time.Duration
	ReadyState   ReadyState
	PlaybackRate float64
	Paused       bool
	Stalled      bool
	BufferedGap  time.Duration
	Seeked       bool
}

// Source is the polled state a Clock ticks against — implemented by the
// Presentation Surface's element handle.
type Source interface {
	CurrentTime() time.Duration
	Duration() time.Duration
	ReadyState() ReadyState
	PlaybackRate() float64
	Paused() bool
	Stalled() bool
	BufferedGap() time.Duration
}

// Clock polls a Source at a fixed rate (≥4 Hz) and publishes Tick values,
// plus immediately on seek.
type Clock struct {
	source Source
	period time.Duration

	mu   sync.Mutex
	subs map[int]chan Tick
	next int

	seekCh chan struct{}
}

// MinTickPeriod is the longest tick period a Clock uses (250ms, i.e. a tick
// rate of at least 4 Hz).
const MinTickPeriod = 250 * time.Millisecond

// New builds a Clock polling source every period. A period <= 0 or longer
// than MinTickPeriod is replaced by MinTickPeriod (250ms, i.e. 4Hz).
func New(source Source, period time.Duration) *Clock {
	if period <= 0 || period > MinTickPeriod {
		period = MinTickPeriod
	}
	return &Clock{
		source: source,
		period: period,
		subs:   make(map[int]chan Tick),
		seekCh: make(chan struct{}, 1),
	}
}

// Subscribe returns a channel of Ticks and an unsubscribe func.
func (c *Clock) Subscribe(buffer int) (<-chan Tick, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Tick, buffer)

	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subs[id]; ok {
			close(sub)
			delete(c.subs, id)
		}
	}
}

// NotifySeek signals an immediate out-of-band tick, emitted on every
// seek/pause/play/stall transition.
func (c *Clock) NotifySeek() {
	select {
	case c.seekCh <- struct{}{}:
	default:
	}
}

// Run drives the polling loop until ctx is cancelled.
func (c *Clock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publish(false)
		case <-c.seekCh:
			c.publish(true)
		}
	}
}

func (c *Clock) publish(seeked bool) {
	tick := Tick{
		CurrentTime:  c.source.CurrentTime(),
		Duration:     c.source.Duration(),
		ReadyState:   c.source.ReadyState(),
		PlaybackRate: c.source.PlaybackRate(),
		Paused:       c.source.Paused(),
		Stalled:      c.source.Stalled(),
		BufferedGap:  c.source.BufferedGap(),
		Seeked:       seeked,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub <- tick:
		default:
		}
	}
}
