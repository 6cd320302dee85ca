package feedback

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxscribe/voxscribe/internal/segmenter"
)

func TestBusDeliversToTypeSubscribers(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(EventTranscriptSegment, func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	bus.Publish(Event{
		Type:      EventTranscriptSegment,
		SessionID: "s1",
		Data: TranscriptSegmentData{
			Segment: segmenter.Segment{StartMs: 0, EndMs: 500, UserID: "u1"},
			Text:    "hello",
			Index:   0,
		},
	})
	// Unrelated events do not reach the typed subscriber.
	bus.Publish(Event{Type: EventSessionStopped, SessionID: "s1"})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "s1", got[0].SessionID)
	assert.False(t, got[0].Timestamp.IsZero())
	data, ok := got[0].Data.(TranscriptSegmentData)
	require.True(t, ok)
	assert.Equal(t, "hello", data.Text)
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventSessionStarted})
	bus.Publish(Event{Type: EventSessionStopped})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus(16)

	var mu sync.Mutex
	delivered := false
	bus.Subscribe(EventSessionStarted, func(Event) { panic("boom") })
	bus.Subscribe(EventSessionStarted, func(Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventSessionStarted})
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1)

	release := make(chan struct{})
	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventSessionStarted, func(Event) {
		<-release
		mu.Lock()
		count++
		mu.Unlock()
	})

	// First event occupies the handler, second fills the buffer, third is
	// dropped without blocking this goroutine.
	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventSessionStarted})
	}
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, time.Second, 10*time.Millisecond)
	bus.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, count, 2)
}
