package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxscribe/voxscribe/internal/audio"
	"github.com/voxscribe/voxscribe/internal/segmenter"
	"github.com/voxscribe/voxscribe/pkg/transcriber"
)

// writeSessionAudio writes a one-second canonical WAV for each stream.
func writeSessionAudio(t *testing.T, dir string) AudioPaths {
	t.Helper()
	samples := make([]int16, audio.SampleRate)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	paths := AudioPaths{
		Loopback:   filepath.Join(dir, "loopback.wav"),
		Microphone: filepath.Join(dir, "mic.wav"),
	}
	require.NoError(t, audio.WriteWAV(paths.Loopback, samples))
	require.NoError(t, audio.WriteWAV(paths.Microphone, samples))
	return paths
}

func TestTranscribeSessionFillsTexts(t *testing.T) {
	dir := t.TempDir()
	state := &State{
		SessionID:  "test",
		SelfUserID: "me",
		AudioPaths: writeSessionAudio(t, dir),
		Segments: []segmenter.Segment{
			{StartMs: 0, EndMs: 200, UserID: "other"},
			{StartMs: 300, EndMs: 600, UserID: "me"},
		},
	}
	mock := &transcriber.Mock{Text: "words"}

	require.NoError(t, TranscribeSession(context.Background(), state, mock, filepath.Join(dir, "scratch")))

	require.Len(t, state.TranscriptTexts, 2)
	assert.Equal(t, []string{"words", "words"}, state.TranscriptTexts)
	assert.Len(t, mock.Calls(), 2)
}

func TestTranscribeSessionEmptySegmentPolicy(t *testing.T) {
	dir := t.TempDir()
	state := &State{
		AudioPaths: writeSessionAudio(t, dir),
		Segments: []segmenter.Segment{
			{StartMs: 500, EndMs: 500, UserID: "u"},
			{StartMs: 0, EndMs: 100, UserID: "u"},
		},
	}
	mock := &transcriber.Mock{Text: "spoken"}

	require.NoError(t, TranscribeSession(context.Background(), state, mock, filepath.Join(dir, "scratch")))

	assert.Equal(t, []string{"", "spoken"}, state.TranscriptTexts)
	assert.Len(t, mock.Calls(), 1, "empty segments never reach the backend")
}

func TestTranscribeSessionBackendErrorSentinel(t *testing.T) {
	dir := t.TempDir()
	state := &State{
		AudioPaths: writeSessionAudio(t, dir),
		Segments: []segmenter.Segment{
			{StartMs: 0, EndMs: 100, UserID: "u"},
			{StartMs: 200, EndMs: 300, UserID: "u"},
		},
	}
	mock := &transcriber.Mock{Err: errors.New("backend exploded")}

	require.NoError(t, TranscribeSession(context.Background(), state, mock, filepath.Join(dir, "scratch")))

	require.Len(t, state.TranscriptTexts, 2)
	for _, text := range state.TranscriptTexts {
		assert.True(t, strings.HasPrefix(text, "[Transcription error:"), text)
		assert.Contains(t, text, "backend exploded")
	}
	assert.Len(t, mock.Calls(), 2, "all segments are still attempted")
}

func TestTranscribeSessionStreamSelection(t *testing.T) {
	dir := t.TempDir()

	// Loopback and microphone carry different sample values so the slice
	// reveals which stream it came from.
	loopSamples := make([]int16, audio.SampleRate)
	micSamples := make([]int16, audio.SampleRate)
	for i := range loopSamples {
		loopSamples[i] = 111
		micSamples[i] = 222
	}
	paths := AudioPaths{
		Loopback:   filepath.Join(dir, "loopback.wav"),
		Microphone: filepath.Join(dir, "mic.wav"),
	}
	require.NoError(t, audio.WriteWAV(paths.Loopback, loopSamples))
	require.NoError(t, audio.WriteWAV(paths.Microphone, micSamples))

	var sliceValues []int16
	backend := &probeBackend{onSlice: func(path string) {
		samples, err := audio.ReadWAV(path)
		require.NoError(t, err)
		require.NotEmpty(t, samples)
		sliceValues = append(sliceValues, samples[0])
	}}

	state := &State{
		SelfUserID: "me",
		AudioPaths: paths,
		Segments: []segmenter.Segment{
			{StartMs: 0, EndMs: 100, UserID: "other"},
			{StartMs: 0, EndMs: 100, UserID: "me"},
		},
	}
	require.NoError(t, TranscribeSession(context.Background(), state, backend, filepath.Join(dir, "scratch")))

	require.Len(t, sliceValues, 2)
	assert.Equal(t, int16(111), sliceValues[0], "other users come from loopback")
	assert.Equal(t, int16(222), sliceValues[1], "the local user comes from the microphone")
}

func TestTranscribeSessionMissingAudioFile(t *testing.T) {
	state := &State{
		Segments: []segmenter.Segment{{StartMs: 0, EndMs: 100, UserID: "u"}},
	}
	mock := &transcriber.Mock{Text: "x"}

	require.NoError(t, TranscribeSession(context.Background(), state, mock, t.TempDir()))

	require.Len(t, state.TranscriptTexts, 1)
	assert.Contains(t, state.TranscriptTexts[0], "[Transcription error:")
	assert.Empty(t, mock.Calls())
}

// probeBackend inspects each slice file it receives.
type probeBackend struct {
	onSlice func(path string)
}

func (p *probeBackend) Name() string  { return "probe" }
func (p *probeBackend) IsReady() bool { return true }
func (p *probeBackend) TranscribeFile(_ context.Context, wavPath string) (string, error) {
	if p.onSlice != nil {
		p.onSlice(wavPath)
	}
	return "ok", nil
}

// Keep the scratch dir clean: slices are removed after transcription.
func TestTranscribeSessionCleansSlices(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "scratch")
	state := &State{
		AudioPaths: writeSessionAudio(t, dir),
		Segments:   []segmenter.Segment{{StartMs: 0, EndMs: 100, UserID: "u"}},
	}
	require.NoError(t, TranscribeSession(context.Background(), state, &transcriber.Mock{Text: "x"}, scratch))

	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
