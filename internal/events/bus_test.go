package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(StreamEvent{Kind: KindLoaded})

	select {
	case ev := <-sub.Events:
		assert.Equal(t, KindLoaded, ev.Kind)
		assert.NotEmpty(t, ev.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe()
	subB := bus.Subscribe()
	defer subA.Unsubscribe()
	defer subB.Unsubscribe()

	bus.Publish(StreamEvent{Kind: KindSpeed, Speed: 2.0})

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case ev := <-sub.Events:
			assert.Equal(t, KindSpeed, ev.Kind)
			assert.InDelta(t, 2.0, ev.Speed, 0.0001)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBus_SequenceIsMonotonic(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(StreamEvent{Kind: KindBufferFilled})
	bus.Publish(StreamEvent{Kind: KindBufferFinished})

	first := <-sub.Events
	second := <-sub.Events

	assert.Less(t, first.Seq, second.Seq)
}

func TestBus_Unsubscribe_ClosesChannel(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events
	assert.False(t, ok)
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < bufferedSubscriberCapacity*2; i++ {
			bus.Publish(StreamEvent{Kind: KindWarning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestBus_Close_ClosesAllSubscribers(t *testing.T) {
	bus := NewBus()
	subA := bus.Subscribe()
	subB := bus.Subscribe()

	bus.Close()

	_, okA := <-subA.Events
	_, okB := <-subB.Events
	require.False(t, okA)
	require.False(t, okB)
}

func TestStreamEvent_Error(t *testing.T) {
	warn := StreamEvent{Kind: KindWarning, Warning: assertError("warn")}
	assert.Equal(t, warn.Warning, warn.Error())

	fatal := StreamEvent{Kind: KindFatal, Fatal: assertError("fatal")}
	assert.Equal(t, fatal.Fatal, fatal.Error())

	none := StreamEvent{Kind: KindLoaded}
	assert.Nil(t, none.Error())
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
