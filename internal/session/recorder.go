package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voxscribe/voxscribe/internal/audio"
	"github.com/voxscribe/voxscribe/internal/discordrpc"
	"github.com/voxscribe/voxscribe/internal/feedback"
	"github.com/voxscribe/voxscribe/internal/segmenter"
	"github.com/voxscribe/voxscribe/pkg/transcriber"
)

// liveGraceDelay gives the ring buffers time to catch up before slicing:
// capture startup can lag the session clock by tens of milliseconds.
var liveGraceDelay = 300 * time.Millisecond

// flushInterval is how often pending segments are checked for expiry.
const flushInterval = 500 * time.Millisecond

// LiveConfig parameterizes live transcription during recording.
type LiveConfig struct {
	Backend    transcriber.Backend
	ScratchDir string
	Bus        *feedback.Bus
}

// Recorder is the session orchestrator. It owns the active session, both
// ring buffers, the capture handle and the live worker; exactly one
// session is active at a time.
type Recorder struct {
	mu     sync.Mutex
	active *activeSession
}

type activeSession struct {
	startTime time.Time
	info      discordrpc.ChannelInfo
	template  string
	live      bool
	seg       *segmenter.Segmenter

	loopRing *audio.Ring
	micRing  *audio.Ring
	capture  *audio.CaptureHandle
	paths    AudioPaths

	segCh      chan segmenter.Segment
	cancelTick context.CancelFunc
	workerDone chan struct{}

	liveMu    sync.Mutex
	liveTexts []string
}

// NewRecorder creates an orchestrator with no active session.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// StartSession primes the segmenter and records the session metadata.
// The session clock starts now.
func (r *Recorder) StartSession(info discordrpc.ChannelInfo, mergeBufferMs uint64, nameTemplate string, liveMode bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return fmt.Errorf("a session is already active")
	}

	start := time.Now()
	s := &activeSession{
		startTime: start,
		info:      info,
		template:  nameTemplate,
		live:      liveMode,
	}
	s.seg = segmenter.New(mergeBufferMs, info.UserLabels, func() uint64 {
		return uint64(time.Since(start).Milliseconds())
	})
	r.active = s

	logrus.WithFields(logrus.Fields{
		"channel_id":      info.ChannelID,
		"channel":         info.ChannelName,
		"merge_buffer_ms": mergeBufferMs,
		"live":            liveMode,
	}).Info("Session started")
	return nil
}

// HandleSpeaking feeds one speaking event into the segmenter. Events
// outside an active session are dropped.
func (r *Recorder) HandleSpeaking(evt discordrpc.SpeakingEvent) {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()
	if s == nil {
		return
	}
	kind := segmenter.KindStart
	if evt.Kind == discordrpc.SpeakingStop {
		kind = segmenter.KindStop
	}
	s.seg.Record(kind, evt.UserID)
}

// ConsumeEvents drains an RPC event channel into the segmenter until the
// channel closes. Run it on its own goroutine.
func (r *Recorder) ConsumeEvents(events <-chan discordrpc.SpeakingEvent) {
	for evt := range events {
		r.HandleSpeaking(evt)
	}
}

// StartRecording starts the dual-stream capture. In live mode it also
// creates the ring buffers, registers the segment publish channel, spawns
// the periodic flush tick and the live transcription worker.
func (r *Recorder) StartRecording(loopbackPath, micPath string, liveCfg *LiveConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.active
	if s == nil {
		return fmt.Errorf("no active session; call StartSession first")
	}
	if s.capture != nil {
		return fmt.Errorf("recording already started")
	}
	if s.live {
		if liveCfg == nil || liveCfg.Backend == nil {
			return fmt.Errorf("live mode requires a transcription backend")
		}
		s.loopRing = audio.NewRing()
		s.micRing = audio.NewRing()
	}

	handle, err := audio.StartCapture(loopbackPath, micPath, s.loopRing, s.micRing)
	if err != nil {
		s.loopRing, s.micRing = nil, nil
		return fmt.Errorf("start capture: %w", err)
	}
	s.capture = handle
	s.paths = AudioPaths{Loopback: loopbackPath, Microphone: micPath}

	if s.live {
		s.segCh = make(chan segmenter.Segment, 256)
		s.seg.SetPublish(s.segCh)
		s.workerDone = make(chan struct{})

		tickCtx, cancel := context.WithCancel(context.Background())
		s.cancelTick = cancel
		go s.runFlushTick(tickCtx)
		go s.runLiveWorker(*liveCfg)
	}

	logrus.WithFields(logrus.Fields{
		"loopback": loopbackPath,
		"mic":      micPath,
		"live":     s.live,
	}).Info("Recording started")
	return nil
}

// StopRecording stops capture, finalizes the segmenter and returns the
// frozen session state. In live mode the worker's input closes first, so
// the final flush is not transcribed live; any texts it did not produce
// yet are padded with empty strings. In-flight backend requests are not
// cancelled; their late results die with the session.
func (r *Recorder) StopRecording() (*State, error) {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()
	if s == nil {
		return nil, fmt.Errorf("no active session")
	}

	if s.capture != nil {
		s.capture.Stop()
	}
	if s.live && s.segCh != nil {
		s.seg.ClearPublish()
		s.cancelTick()
		close(s.segCh)
	}

	segments := s.seg.Finish()
	state := &State{
		SessionID:       FormatSessionID(s.template, s.info.GuildName, s.info.ChannelName, time.Now()),
		CreatedAt:       s.startTime.Unix(),
		GuildName:       s.info.GuildName,
		GuildID:         s.info.GuildID,
		ChannelName:     s.info.ChannelName,
		ChannelID:       s.info.ChannelID,
		ChannelType:     s.info.ChannelType,
		LiveModeEnabled: s.live,
		SelfUserID:      s.info.SelfUserID,
		UserLabels:      s.info.UserLabels,
		Segments:        segments,
		TranscriptTexts: []string{},
		AudioPaths:      s.paths,
	}
	if s.live {
		s.liveMu.Lock()
		texts := make([]string, len(s.liveTexts))
		copy(texts, s.liveTexts)
		s.liveMu.Unlock()
		for len(texts) < len(segments) {
			texts = append(texts, "")
		}
		state.TranscriptTexts = texts
	}

	logrus.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"segments":   len(segments),
	}).Info("Recording stopped")
	return state, nil
}

// Active reports whether a session is in progress.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (s *activeSession) runFlushTick(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.seg.FlushElapsed()
		case <-ctx.Done():
			return
		}
	}
}

// runLiveWorker consumes published segments in order and runs the
// per-segment procedure. The n-th received segment is the n-th entry of
// the session's segment list, so texts are stored by that index even when
// a segment has to be skipped.
func (s *activeSession) runLiveWorker(cfg LiveConfig) {
	defer close(s.workerDone)
	ctx := context.Background()
	received := 0

	for seg := range s.segCh {
		idx := received
		received++

		if seg.EndMs <= seg.StartMs {
			s.setLiveText(idx, "")
			continue
		}

		time.Sleep(liveGraceDelay)

		ring := s.loopRing
		if s.info.SelfUserID != "" && seg.UserID == s.info.SelfUserID {
			ring = s.micRing
		}
		samples := ring.Extract(seg.StartMs, seg.EndMs)
		if len(samples) == 0 {
			logrus.WithFields(logrus.Fields{
				"start_ms": seg.StartMs,
				"end_ms":   seg.EndMs,
				"user_id":  seg.UserID,
			}).Info("Live extract returned empty, skipping segment")
			s.setLiveText(idx, "")
			if cfg.Bus != nil {
				cfg.Bus.Publish(feedback.Event{
					Type: feedback.EventSegmentSkipped,
					Data: feedback.SegmentSkippedData{Segment: seg, Reason: "ring buffer range unavailable"},
				})
			}
			continue
		}

		if err := os.MkdirAll(cfg.ScratchDir, 0o750); err != nil {
			logrus.WithError(err).Warn("Cannot create scratch dir, skipping segment")
			s.setLiveText(idx, "")
			continue
		}
		slicePath := filepath.Join(cfg.ScratchDir, fmt.Sprintf("live_seg_%04d.wav", idx))
		if err := audio.WriteWAV(slicePath, samples); err != nil {
			logrus.WithError(err).Warn("Failed to write live slice")
			s.setLiveText(idx, "")
			continue
		}

		text, err := cfg.Backend.TranscribeFile(ctx, slicePath)
		if err != nil {
			logrus.WithError(err).Warn("Live transcription failed")
			text = fmt.Sprintf("[Transcription error: %v]", err)
		}
		s.setLiveText(idx, text)
		_ = os.Remove(slicePath)

		if cfg.Bus != nil {
			cfg.Bus.Publish(feedback.Event{
				Type: feedback.EventTranscriptSegment,
				Data: feedback.TranscriptSegmentData{Segment: seg, Text: text, Index: idx},
			})
		}
	}
}

func (s *activeSession) setLiveText(idx int, text string) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	for len(s.liveTexts) <= idx {
		s.liveTexts = append(s.liveTexts, "")
	}
	s.liveTexts[idx] = text
}
