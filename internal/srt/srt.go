// Package srt renders subtitle lists in SubRip format.
package srt

import (
	"fmt"
	"strings"

	"github.com/subvox/subvox/pkg/models"
)

// FormatTimestamp renders seconds as an SRT timestamp, HH:MM:SS,mmm.
// Negative inputs clamp to zero.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	millis := int64(seconds*1000 + 0.5)
	h := millis / 3600000
	millis -= h * 3600000
	m := millis / 60000
	millis -= m * 60000
	s := millis / 1000
	ms := millis % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Format renders subtitles as an SRT document. Entries are numbered from 1
// in the order given; callers pass them sorted by start time. With
// translated set, the translated text is preferred and the original used
// for entries that have none; otherwise the original text is always used.
func Format(subs []*models.Subtitle, translated bool) string {
	var b strings.Builder

	for i, sub := range subs {
		text := sub.TextOriginal
		if translated && sub.TextTranslated != "" {
			text = sub.TextTranslated
		}

		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", FormatTimestamp(sub.StartTime), FormatTimestamp(sub.EndTime))
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	return b.String()
}
