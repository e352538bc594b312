package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSink_OnTickSelectsContainingElement(t *testing.T) {
	s := New()
	s.SetElements([]Element{
		{ID: "a", Start: 0, End: 2 * time.Second},
		{ID: "b", Start: 2 * time.Second, End: 4 * time.Second},
	})

	s.OnTick(time.Second, Epsilon(250*time.Millisecond))
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.ID)

	s.OnTick(3*time.Second, Epsilon(250*time.Millisecond))
	active, ok = s.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)
}

func TestSink_OnTickNoElementDetaches(t *testing.T) {
	s := New()
	s.SetElements([]Element{{ID: "a", Start: 0, End: time.Second}})

	s.OnTick(500*time.Millisecond, Epsilon(250*time.Millisecond))
	_, ok := s.Active()
	require.True(t, ok)

	s.OnTick(5*time.Second, Epsilon(250*time.Millisecond))
	_, ok = s.Active()
	assert.False(t, ok)
}

func TestSink_SwitchEmitsRemoveThenAttach(t *testing.T) {
	s := New()
	s.SetElements([]Element{
		{ID: "a", Start: 0, End: time.Second},
		{ID: "b", Start: time.Second, End: 2 * time.Second},
	})

	events, unsub := s.Events()
	defer unsub()

	s.OnTick(500*time.Millisecond, 0)
	ev := <-events
	require.Nil(t, ev.Previous)
	require.NotNil(t, ev.Current)
	assert.Equal(t, "a", ev.Current.ID)

	s.OnTick(1500*time.Millisecond, 0)
	ev = <-events
	require.NotNil(t, ev.Previous)
	assert.Equal(t, "a", ev.Previous.ID)
	require.NotNil(t, ev.Current)
	assert.Equal(t, "b", ev.Current.ID)
}

func TestSink_EqualElementsAreNoop(t *testing.T) {
	s := New()
	s.SetElements([]Element{{ID: "a", Start: 0, End: 10 * time.Second}})

	events, unsub := s.Events()
	defer unsub()

	s.OnTick(time.Second, 0)
	<-events

	s.OnTick(2*time.Second, 0)
	select {
	case ev := <-events:
		t.Fatalf("expected no event for unchanged element, got %+v", ev)
	default:
	}
}

func TestSink_AbortRemovesAttachedElement(t *testing.T) {
	s := New()
	s.SetElements([]Element{{ID: "a", Start: 0, End: 10 * time.Second}})
	s.OnTick(time.Second, 0)

	events, unsub := s.Events()
	defer unsub()

	s.Abort()
	ev := <-events
	require.NotNil(t, ev.Previous)
	assert.Equal(t, "a", ev.Previous.ID)
	assert.Nil(t, ev.Current)

	_, ok := s.Active()
	assert.False(t, ok)
}

func TestSink_AbortWithNoActiveElementIsNoop(t *testing.T) {
	s := New()
	events, unsub := s.Events()
	defer unsub()

	s.Abort()
	select {
	case ev := <-events:
		t.Fatalf("expected no event, got %+v", ev)
	default:
	}
}

func TestEpsilon_IsIntervalOver3000(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond/3000, Epsilon(250*time.Millisecond))
}

func TestSink_UnsubscribeClosesChannel(t *testing.T) {
	s := New()
	events, unsub := s.Events()
	unsub()

	_, ok := <-events
	assert.False(t, ok)
}
