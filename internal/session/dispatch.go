package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/voxscribe/voxscribe/internal/audio"
	"github.com/voxscribe/voxscribe/pkg/transcriber"
)

// TranscribeSession runs the batch per-segment procedure over a finished
// session: pick the source stream (microphone for the local user,
// loopback for everyone else), slice it into a scratch WAV, invoke the
// backend, and store the text at the segment's index. A failing segment
// records an error sentinel and the rest are still attempted.
func TranscribeSession(ctx context.Context, state *State, backend transcriber.Backend, scratchDir string) error {
	if err := os.MkdirAll(scratchDir, 0o750); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": state.SessionID,
		"segments":   len(state.Segments),
		"backend":    backend.Name(),
	}).Info("Batch transcription started")

	texts := make([]string, len(state.Segments))
	for i, seg := range state.Segments {
		if seg.EndMs <= seg.StartMs {
			texts[i] = ""
			continue
		}

		src := state.AudioPaths.Loopback
		if state.SelfUserID != "" && seg.UserID == state.SelfUserID {
			src = state.AudioPaths.Microphone
		}
		if src == "" {
			texts[i] = "[Transcription error: no audio file for segment]"
			continue
		}

		slicePath := filepath.Join(scratchDir, fmt.Sprintf("seg_%d.wav", i))
		if err := audio.ExtractWAVRange(src, slicePath, seg.StartMs, seg.EndMs); err != nil {
			logrus.WithError(err).WithField("segment", i).Warn("Slice extraction failed")
			texts[i] = fmt.Sprintf("[Transcription error: %v]", err)
			continue
		}

		text, err := backend.TranscribeFile(ctx, slicePath)
		if err != nil {
			logrus.WithError(err).WithField("segment", i).Warn("Segment transcription failed")
			texts[i] = fmt.Sprintf("[Transcription error: %v]", err)
		} else {
			texts[i] = text
		}
		_ = os.Remove(slicePath)
	}

	state.TranscriptTexts = texts
	logrus.WithField("session_id", state.SessionID).Info("Batch transcription finished")
	return nil
}
