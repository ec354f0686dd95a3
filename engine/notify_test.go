package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_PublishToSubscribers(t *testing.T) {
	var b Broadcaster
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(Change{Keys: []string{"a"}})

	assert.Equal(t, []string{"a"}, (<-ch1).Keys)
	assert.Equal(t, []string{"a"}, (<-ch2).Keys)
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	var b Broadcaster
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Change{Keys: []string{"first"}})
	b.Publish(Change{Keys: []string{"second"}}) // dropped, buffer is full

	assert.Equal(t, []string{"first"}, (<-ch).Keys)
	select {
	case c := <-ch:
		t.Fatalf("unexpected extra change: %+v", c)
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	var b Broadcaster
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(Change{}) // no subscribers left, must not panic
}
