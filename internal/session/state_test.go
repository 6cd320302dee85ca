package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSessionIDPlaceholders(t *testing.T) {
	now := time.Date(2024, 3, 15, 14, 30, 45, 0, time.UTC)
	got := FormatSessionID("{guild}_{channel}_{date}_{time}", "My Guild", "General", now)
	assert.Equal(t, "My Guild_General_2024-03-15_14-30-45", got)
}

func TestFormatSessionIDTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	got := FormatSessionID("{timestamp}", "G", "C", now)
	assert.Equal(t, "1700000000", got)
}

func TestFormatSessionIDDefaults(t *testing.T) {
	now := time.Unix(1700000000, 0)
	got := FormatSessionID("", "", "", now)
	assert.Equal(t, "Unknown_Unknown_1700000000", got)
}

func TestFormatSessionIDSanitizes(t *testing.T) {
	now := time.Unix(0, 0)
	got := FormatSessionID("{guild}/{channel}", `My<Guild>`, `a:b"c|d?e*f\g`, now)
	assert.NotContains(t, got, "/")
	assert.NotContains(t, got, "<")
	assert.NotContains(t, got, ">")
	assert.NotContains(t, got, ":")
	assert.NotContains(t, got, `"`)
	assert.NotContains(t, got, "|")
	assert.NotContains(t, got, "?")
	assert.NotContains(t, got, "*")
	assert.NotContains(t, got, `\`)
	assert.Equal(t, "My_Guild__a_b_c_d_e_f_g", got)
}
