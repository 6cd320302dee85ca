// Package session owns the active recording session: its state, the
// segmenter feeding it, the capture handles and the live transcription
// worker.
package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/voxscribe/voxscribe/internal/segmenter"
)

// AudioPaths locates the two per-session capture files.
type AudioPaths struct {
	Loopback   string `json:"loopback,omitempty"`
	Microphone string `json:"microphone,omitempty"`
}

// State is the frozen result of a recording session, returned by
// StopRecording and persisted as the project entity. TranscriptTexts is
// zipped with Segments by position.
type State struct {
	SessionID       string              `json:"session_id"`
	CreatedAt       int64               `json:"created_at"`
	GuildName       string              `json:"guild_name,omitempty"`
	GuildID         string              `json:"guild_id,omitempty"`
	ChannelName     string              `json:"channel_name,omitempty"`
	ChannelID       string              `json:"channel_id,omitempty"`
	ChannelType     int                 `json:"channel_type,omitempty"`
	LiveModeEnabled bool                `json:"live_mode_enabled"`
	SelfUserID      string              `json:"self_user_id,omitempty"`
	UserLabels      map[string]string   `json:"user_labels,omitempty"`
	Segments        []segmenter.Segment `json:"segments"`
	TranscriptTexts []string            `json:"transcript_texts"`
	AudioPaths      AudioPaths          `json:"audio_paths"`
}

// DefaultNameTemplate is used when the caller supplies none.
const DefaultNameTemplate = "{guild}_{channel}_{timestamp}"

// FormatSessionID expands the name template ({guild}, {channel},
// {timestamp}, {date}, {time}) and sanitizes the result for use as a file
// name.
func FormatSessionID(template, guild, channel string, now time.Time) string {
	if template == "" {
		template = DefaultNameTemplate
	}
	if guild == "" {
		guild = "Unknown"
	}
	if channel == "" {
		channel = "Unknown"
	}
	now = now.UTC()

	s := template
	s = strings.ReplaceAll(s, "{guild}", guild)
	s = strings.ReplaceAll(s, "{channel}", channel)
	s = strings.ReplaceAll(s, "{timestamp}", strconv.FormatInt(now.Unix(), 10))
	s = strings.ReplaceAll(s, "{date}", now.Format("2006-01-02"))
	s = strings.ReplaceAll(s, "{time}", now.Format("15-04-05"))
	return sanitizeFileName(s)
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, s)
}
