// Package segmenter turns a stream of speaking start/stop events into
// finalized, per-speaker time ranges. Brief pauses below the merge buffer
// are joined into one utterance; overlapping speakers are tracked
// independently.
package segmenter

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventKind distinguishes speaking start and stop events.
type EventKind int

const (
	KindStart EventKind = iota
	KindStop
)

// Segment is a finalized utterance attributed to one speaker. Times are
// milliseconds on the session clock.
type Segment struct {
	StartMs     uint64 `json:"start_ms"`
	EndMs       uint64 `json:"end_ms"`
	UserID      string `json:"user_id"`
	SpeakerName string `json:"speaker_name,omitempty"`
}

type pendingSegment struct {
	startMs uint64
	stopMs  uint64
}

// Segmenter is the merge-buffer state machine. Each user is in at most one
// of two maps: open (started, not yet stopped) or pending (stopped, inside
// the cooldown window where a new start extends the same utterance).
type Segmenter struct {
	mu       sync.Mutex
	clock    func() uint64 // session clock in milliseconds
	mergeMs  uint64
	labels   map[string]string
	open     map[string]uint64 // user id -> start ms
	pending  map[string]pendingSegment
	segments []Segment
	publish  chan<- Segment
}

// New creates a segmenter. mergeBufferMs is clamped to at least 1 ms.
// clock reports milliseconds since session start and is called at every
// event arrival.
func New(mergeBufferMs uint64, labels map[string]string, clock func() uint64) *Segmenter {
	if mergeBufferMs < 1 {
		mergeBufferMs = 1
	}
	if labels == nil {
		labels = map[string]string{}
	}
	return &Segmenter{
		clock:   clock,
		mergeMs: mergeBufferMs,
		labels:  labels,
		open:    make(map[string]uint64),
		pending: make(map[string]pendingSegment),
	}
}

// SetPublish registers a channel that receives a copy of every finalized
// segment, used by the live transcription worker. Sends never block: if
// the channel is full the copy is dropped with a warning (the segment
// itself is still recorded).
func (s *Segmenter) SetPublish(ch chan<- Segment) {
	s.mu.Lock()
	s.publish = ch
	s.mu.Unlock()
}

// ClearPublish detaches the live channel.
func (s *Segmenter) ClearPublish() {
	s.mu.Lock()
	s.publish = nil
	s.mu.Unlock()
}

// Record applies one speaking event at the current session clock.
func (s *Segmenter) Record(kind EventKind, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if kind == KindStart {
		s.recordStartLocked(userID, now)
	} else {
		s.recordStopLocked(userID, now)
	}
}

func (s *Segmenter) recordStartLocked(userID string, now uint64) {
	// A start on one user means the others' cooldowns are over: their
	// pending segments cannot be extended anymore, so flush them.
	for other := range s.pending {
		if other != userID {
			s.finalizePendingLocked(other)
		}
	}

	if p, ok := s.pending[userID]; ok {
		delete(s.pending, userID)
		if now-p.stopMs <= s.mergeMs {
			// Same utterance: reopen with the original start.
			s.open[userID] = p.startMs
		} else {
			s.appendLocked(Segment{StartMs: p.startMs, EndMs: p.stopMs, UserID: userID})
			s.open[userID] = now
		}
		return
	}
	if _, ok := s.open[userID]; ok {
		// Duplicate start.
		return
	}
	s.open[userID] = now
}

func (s *Segmenter) recordStopLocked(userID string, now uint64) {
	if startMs, ok := s.open[userID]; ok {
		delete(s.open, userID)
		s.pending[userID] = pendingSegment{startMs: startMs, stopMs: now}
		return
	}
	if p, ok := s.pending[userID]; ok {
		// Stop without a matching start extends the cooldown window.
		p.stopMs = now
		s.pending[userID] = p
	}
}

// FlushElapsed finalizes every pending segment whose cooldown has expired.
// The orchestrator calls this on a periodic tick so a solo speaker's last
// utterance does not stay pending until session stop.
func (s *Segmenter) FlushElapsed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for userID, p := range s.pending {
		if now >= p.stopMs && now-p.stopMs >= s.mergeMs {
			s.finalizePendingLocked(userID)
		}
	}
}

// Finish finalizes all pending entries, closes open ones at the current
// clock, and returns the segment list in append order. The segmenter is
// empty afterwards.
func (s *Segmenter) Finish() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	for userID := range s.pending {
		s.finalizePendingLocked(userID)
	}
	now := s.clock()
	for userID, startMs := range s.open {
		delete(s.open, userID)
		s.appendLocked(Segment{StartMs: startMs, EndMs: now, UserID: userID})
	}
	out := s.segments
	s.segments = nil
	return out
}

// Segments returns a copy of the finalized list so far.
func (s *Segmenter) Segments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Segmenter) finalizePendingLocked(userID string) {
	p, ok := s.pending[userID]
	if !ok {
		return
	}
	delete(s.pending, userID)
	s.appendLocked(Segment{StartMs: p.startMs, EndMs: p.stopMs, UserID: userID})
}

func (s *Segmenter) appendLocked(seg Segment) {
	if seg.EndMs <= seg.StartMs {
		// Finalized segments always satisfy start < end.
		return
	}
	seg.SpeakerName = s.labels[seg.UserID]
	s.segments = append(s.segments, seg)
	if s.publish != nil {
		select {
		case s.publish <- seg:
		default:
			logrus.WithFields(logrus.Fields{
				"user_id":  seg.UserID,
				"start_ms": seg.StartMs,
			}).Warn("Live segment channel full, copy dropped")
		}
	}
}
