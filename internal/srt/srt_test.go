package srt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subvox/subvox/pkg/models"
)

type srtEntry struct {
	index int
	start float64
	end   float64
	text  string
}

// parseSRT reads a rendered document back into entries so tests can check
// the output survives a round trip through an SRT consumer.
func parseSRT(t *testing.T, doc string) []srtEntry {
	t.Helper()

	var entries []srtEntry
	for _, block := range strings.Split(strings.TrimSpace(doc), "\n\n") {
		lines := strings.SplitN(block, "\n", 3)
		require.Len(t, lines, 3, "block %q", block)

		var e srtEntry
		_, err := fmt.Sscanf(lines[0], "%d", &e.index)
		require.NoError(t, err)

		times := strings.Split(lines[1], " --> ")
		require.Len(t, times, 2, "timing line %q", lines[1])
		e.start = parseTimestamp(t, times[0])
		e.end = parseTimestamp(t, times[1])
		e.text = lines[2]

		entries = append(entries, e)
	}
	return entries
}

func parseTimestamp(t *testing.T, s string) float64 {
	t.Helper()
	var h, m, sec, ms int
	_, err := fmt.Sscanf(s, "%02d:%02d:%02d,%03d", &h, &m, &sec, &ms)
	require.NoError(t, err, "timestamp %q", s)
	return float64(h*3600+m*60+sec) + float64(ms)/1000
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    string
	}{
		{"zero", 0, "00:00:00,000"},
		{"millis only", 0.5, "00:00:00,500"},
		{"seconds and millis", 1.234, "00:00:01,234"},
		{"minutes", 61.0, "00:01:01,000"},
		{"hours", 3661.042, "01:01:01,042"},
		{"rounds to nearest milli", 2.9996, "00:00:03,000"},
		{"negative clamps", -1.5, "00:00:00,000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTimestamp(tt.seconds))
		})
	}
}

func TestFormat_Translated(t *testing.T) {
	subs := []*models.Subtitle{
		{StartTime: 0, EndTime: 1.5, TextOriginal: "Hello", TextTranslated: "Bonjour"},
		{StartTime: 2, EndTime: 3.25, TextOriginal: "World", TextTranslated: "Monde"},
	}

	got := Format(subs, true)

	want := "1\n" +
		"00:00:00,000 --> 00:00:01,500\n" +
		"Bonjour\n\n" +
		"2\n" +
		"00:00:02,000 --> 00:00:03,250\n" +
		"Monde\n\n"
	assert.Equal(t, want, got)
}

func TestFormat_Original(t *testing.T) {
	subs := []*models.Subtitle{
		{StartTime: 0, EndTime: 1, TextOriginal: "Hello", TextTranslated: "Bonjour"},
	}

	got := Format(subs, false)

	assert.Contains(t, got, "Hello")
	assert.NotContains(t, got, "Bonjour")
}

func TestFormat_TranslatedFallsBackToOriginal(t *testing.T) {
	subs := []*models.Subtitle{
		{StartTime: 0, EndTime: 1, TextOriginal: "Hello", TextTranslated: "Bonjour"},
		{StartTime: 2, EndTime: 3, TextOriginal: "untranslated line", TextTranslated: ""},
	}

	got := Format(subs, true)

	assert.Contains(t, got, "Bonjour")
	assert.Contains(t, got, "untranslated line")
}

func TestFormat_RoundTrip(t *testing.T) {
	subs := []*models.Subtitle{
		{StartTime: 0, EndTime: 1.5, TextOriginal: "Hello", TextTranslated: "Bonjour"},
		{StartTime: 2.042, EndTime: 3.25, TextOriginal: "World", TextTranslated: "Monde"},
		{StartTime: 3661.999, EndTime: 3700, TextOriginal: "untranslated line"},
	}

	entries := parseSRT(t, Format(subs, true))
	require.Len(t, entries, len(subs))

	for i, e := range entries {
		assert.Equal(t, i+1, e.index)
		assert.InDelta(t, subs[i].StartTime, e.start, 0.001)
		assert.InDelta(t, subs[i].EndTime, e.end, 0.001)
	}
	assert.Equal(t, "Bonjour", entries[0].text)
	assert.Equal(t, "Monde", entries[1].text)
	assert.Equal(t, "untranslated line", entries[2].text)
}

func TestFormat_Empty(t *testing.T) {
	assert.Equal(t, "", Format(nil, true))
	assert.Equal(t, "", Format([]*models.Subtitle{}, false))
}
