// Package feedback distributes recording and transcription events to
// whatever surface is listening: the CLI printing live transcripts, or
// nothing at all in batch mode.
package feedback

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxscribe/voxscribe/internal/segmenter"
)

// EventType represents the type of event
type EventType string

const (
	// Live transcription events
	EventTranscriptSegment   EventType = "transcript.segment"
	EventTranscriptionFailed EventType = "transcription.failed"

	// Session lifecycle events
	EventSessionStarted EventType = "session.started"
	EventSessionStopped EventType = "session.stopped"

	// Audio events
	EventSegmentSkipped EventType = "audio.segment.skipped"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Timestamp time.Time
	SessionID string
	Data      interface{}
}

// TranscriptSegmentData is published for every live-transcribed segment.
// Index is the segment's position in the session list, which is how
// consumers align texts with segments.
type TranscriptSegmentData struct {
	Segment segmenter.Segment
	Text    string
	Index   int
}

// SegmentSkippedData is published when a live segment could not be sliced
// from the ring buffer.
type SegmentSkippedData struct {
	Segment segmenter.Segment
	Reason  string
}

// EventHandler is a function that handles events
type EventHandler func(event Event)

// Bus distributes events to subscribers through a buffered queue so
// publishers (the live worker, the orchestrator) never block on slow
// consumers.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]EventHandler
	allHandlers []EventHandler
	buffer      chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewBus creates a bus and starts its delivery goroutine.
func NewBus(bufferSize int) *Bus {
	b := &Bus{
		handlers: make(map[EventType][]EventHandler),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.processEvents()
	return b
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Publish queues an event for delivery. When the buffer is full the event
// is dropped rather than blocking the publisher.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.buffer <- event:
	default:
		logrus.WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("Event dropped, buffer full")
	}
}

// Stop drains the queue and stops delivery.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

func (b *Bus) processEvents() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.buffer:
			b.deliverEvent(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.buffer:
					b.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliverEvent(event Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[event.Type]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"event_type": event.Type,
						"panic":      r,
					}).Error("Event handler panic")
				}
			}()
			handler(event)
		}()
	}
}
