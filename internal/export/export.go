// Package export writes speaker-attributed transcripts as SRT and WebVTT
// subtitle files. Segments and texts are zipped by position; trailing
// segments without a text get the speaker label with an empty text.
package export

import (
	"fmt"
	"os"
	"strings"

	"github.com/voxscribe/voxscribe/internal/segmenter"
)

// WriteSRT writes segments and texts as a SubRip file.
func WriteSRT(path string, segments []segmenter.Segment, texts []string) error {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTime(seg.StartMs), srtTime(seg.EndMs))
		fmt.Fprintf(&b, "%s\n\n", cueLine(seg, texts, i))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write srt: %w", err)
	}
	return nil
}

// WriteVTT writes segments and texts as a WebVTT file.
func WriteVTT(path string, segments []segmenter.Segment, texts []string) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, seg := range segments {
		fmt.Fprintf(&b, "%s --> %s\n", vttTime(seg.StartMs), vttTime(seg.EndMs))
		fmt.Fprintf(&b, "%s\n\n", cueLine(seg, texts, i))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write vtt: %w", err)
	}
	return nil
}

func cueLine(seg segmenter.Segment, texts []string, i int) string {
	speaker := seg.SpeakerName
	if speaker == "" {
		speaker = seg.UserID
	}
	text := ""
	if i < len(texts) {
		text = texts[i]
	}
	return fmt.Sprintf("[%s]: %s", speaker, text)
}

func srtTime(ms uint64) string {
	h, m, s, frac := splitTime(ms)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, frac)
}

func vttTime(ms uint64) string {
	h, m, s, frac := splitTime(ms)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, frac)
}

func splitTime(ms uint64) (h, m, s, frac uint64) {
	return ms / 3_600_000, (ms % 3_600_000) / 60_000, (ms % 60_000) / 1_000, ms % 1_000
}
