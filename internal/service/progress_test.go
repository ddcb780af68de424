package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailhead/trailimport/internal/domain"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster()
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubC()

	b.Publish(domain.Progress{CurrentSource: "usgs", Processed: 50})

	assert.Equal(t, 50, (<-a).Processed)
	assert.Equal(t, 50, (<-c).Processed)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcaster_DropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < defaultSubscriberBuffer+10; i++ {
		b.Publish(domain.Progress{CurrentBatch: i})
	}
	assert.Len(t, ch, defaultSubscriberBuffer)
	assert.Equal(t, 0, (<-ch).CurrentBatch)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()

	b.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers())

	// no panics after close
	unsub()
	b.Publish(domain.Progress{})
	b.Close()

	late, _ := b.Subscribe()
	_, open = <-late
	require.False(t, open)
}

func TestBroadcaster_DoneEventSurvivesFullBuffer(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()
	other, unsubOther := b.Subscribe()
	defer unsubOther()

	for i := 0; i < 100; i++ {
		b.Publish(domain.Progress{JobID: "job-1", CurrentBatch: i})
	}
	<-other
	b.Publish(domain.Progress{JobID: "job-1", CurrentSource: domain.ProgressComplete, Processed: 100})

	for _, sub := range []<-chan domain.Progress{ch, other} {
		require.Len(t, sub, defaultSubscriberBuffer)
		var drained []domain.Progress
		for len(sub) > 0 {
			drained = append(drained, <-sub)
		}
		last := drained[len(drained)-1]
		assert.True(t, last.Done())
		assert.Equal(t, 100, last.Processed)
	}
}
