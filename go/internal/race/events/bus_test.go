package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch <-chan Event, within time.Duration) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(within):
		t.Fatalf("no event within %s", within)
		return nil
	}
}

func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus()
	stages, cancelStages := bus.Subscribe(4, KindStageUpdate)
	defer cancelStages()
	all, cancelAll := bus.Subscribe(4)
	defer cancelAll()

	bus.Publish(DialUpdate{RacerID: 1, Value: time.Second})
	bus.Publish(StageUpdate{RacerID: 2, Staged: true})

	assert.Equal(t, StageUpdate{RacerID: 2, Staged: true}, recvEvent(t, stages, time.Second))
	assert.Equal(t, DialUpdate{RacerID: 1, Value: time.Second}, recvEvent(t, all, time.Second))
	assert.Equal(t, KindStageUpdate, recvEvent(t, all, time.Second).Kind())

	select {
	case e := <-stages:
		t.Fatalf("unexpected event %v", e)
	default:
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(BeginRace{})
	bus.Publish(LinkUp{})

	assert.Equal(t, BeginRace{}, recvEvent(t, ch, time.Second))
	select {
	case e := <-ch:
		t.Fatalf("expected drop, got %v", e)
	default:
	}
}

func TestCancelClosesChannelAndIsIdempotent(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// publishing after cancel must not panic
	bus.Publish(BeginRace{})
}
