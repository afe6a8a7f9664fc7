// Package translate implements the context-chained translation stage.
//
// Segments are translated strictly in ascending start-time order. Each call
// sees a bounded window of neighboring original texts plus the most recent
// translated outputs, which is what makes the stage inherently sequential:
// translating segment i requires the completed output of segments i-1..i-W.
// Parallelizing across segments would break context fidelity.
package translate

import (
	"context"
	"strings"

	"github.com/subvox/subvox/pkg/models"
)

// Outcome is the tagged result of translating one segment: either a
// successful translation or a fallback to the untranslated original.
type Outcome struct {
	Text     string
	Fallback bool
	Reason   error
}

// Stats aggregates one bulk translation pass
type Stats struct {
	Total     int
	Fallbacks int
}

// ContextualTranslator translates an ordered segment stream under a sliding
// context window
type ContextualTranslator struct {
	client         SentenceTranslator
	targetLanguage string
	window         int
}

// New creates a contextual translator. window is the count of neighboring
// segments supplied on each side of a sentence, and the size of the rolling
// translated-output buffer.
func New(client SentenceTranslator, targetLanguage string, window int) *ContextualTranslator {
	if window < 0 {
		window = 0
	}
	return &ContextualTranslator{
		client:         client,
		targetLanguage: targetLanguage,
		window:         window,
	}
}

// TranslateAll fills TextTranslated on every segment, in place, as a fold
// over the ordered sequence carrying a fixed-size queue of previous outputs.
// A failed call falls back to the original text for that segment only; the
// fallback text still enters the rolling buffer and is visible as context to
// later segments, matching the bulk behavior users already rely on. Only
// context cancellation aborts the pass.
func (ct *ContextualTranslator) TranslateAll(ctx context.Context, segments []models.Segment) (Stats, error) {
	texts := make([]string, len(segments))
	for i := range segments {
		texts[i] = segments[i].TextOriginal
	}

	recent := newRecentBuffer(ct.window)
	var stats Stats

	for i := range segments {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		out := ct.translateAt(ctx, texts, i, recent.joined())
		segments[i].TextTranslated = out.Text
		if out.Fallback {
			stats.Fallbacks++
		} else if strings.TrimSpace(out.Text) != "" {
			segments[i].Confidence = models.ConfidenceTranslated
		}

		recent.push(out.Text)
		stats.Total++
	}

	return stats, nil
}

// translateAt translates texts[i] with window-bounded context
func (ct *ContextualTranslator) translateAt(ctx context.Context, texts []string, i int, previousTranslated string) Outcome {
	before := texts[maxInt(0, i-ct.window):i]
	after := texts[i+1 : minInt(len(texts), i+1+ct.window)]

	translated, err := ct.client.TranslateSentence(ctx, SentenceRequest{
		Text:               texts[i],
		TargetLanguage:     ct.targetLanguage,
		ContextBefore:      strings.Join(before, "\n"),
		ContextAfter:       strings.Join(after, "\n"),
		PreviousTranslated: previousTranslated,
	})
	if err != nil {
		return Outcome{Text: texts[i], Fallback: true, Reason: err}
	}

	return Outcome{Text: translated}
}

// RetranslateOne re-derives one persisted subtitle's translation from its
// current persisted neighbors: up to window original texts each side, oldest
// first, and up to window already-translated predecessor texts. The caller
// queries the neighbors; failure propagates so the caller can decide to keep
// the existing translation.
func (ct *ContextualTranslator) RetranslateOne(ctx context.Context, text string, before, after, previousTranslated []string) (string, error) {
	return ct.client.TranslateSentence(ctx, SentenceRequest{
		Text:               text,
		TargetLanguage:     ct.targetLanguage,
		ContextBefore:      strings.Join(tail(before, ct.window), "\n"),
		ContextAfter:       strings.Join(head(after, ct.window), "\n"),
		PreviousTranslated: strings.Join(tail(previousTranslated, ct.window), "\n"),
	})
}

// Window returns the configured context window size
func (ct *ContextualTranslator) Window() int { return ct.window }

// recentBuffer is the fixed-size queue of the most recent translated outputs
type recentBuffer struct {
	items []string
	size  int
}

func newRecentBuffer(size int) *recentBuffer {
	return &recentBuffer{size: size}
}

func (rb *recentBuffer) push(s string) {
	if rb.size == 0 {
		return
	}
	rb.items = append(rb.items, s)
	if len(rb.items) > rb.size {
		rb.items = rb.items[1:]
	}
}

func (rb *recentBuffer) joined() string {
	return strings.Join(rb.items, "\n")
}

func tail(s []string, n int) []string {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
