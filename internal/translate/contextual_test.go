package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvox/subvox/pkg/models"
)

// fakeTranslator records every request and translates by prefixing, or fails
// for texts listed in failOn.
type fakeTranslator struct {
	requests []SentenceRequest
	failOn   map[string]bool
}

func (f *fakeTranslator) TranslateSentence(_ context.Context, req SentenceRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.failOn[req.Text] {
		return "", errors.New("upstream unavailable")
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	return "T(" + req.Text + ")", nil
}

func segmentsFromTexts(texts ...string) []models.Segment {
	segs := make([]models.Segment, len(texts))
	for i, txt := range texts {
		segs[i] = models.Segment{
			Start:        float64(i),
			End:          float64(i) + 0.5,
			TextOriginal: txt,
			Confidence:   models.ConfidenceTranscribed,
		}
	}
	return segs
}

func TestTranslateAllTwoSegments(t *testing.T) {
	fake := &fakeTranslator{}
	ct := New(fake, "French", 3)

	segs := segmentsFromTexts("Hello", "World")
	stats, err := ct.TranslateAll(context.Background(), segs)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 2, Fallbacks: 0}, stats)
	require.Len(t, fake.requests, 2)

	first := fake.requests[0]
	assert.Equal(t, "Hello", first.Text)
	assert.Equal(t, "French", first.TargetLanguage)
	assert.Empty(t, first.ContextBefore)
	assert.Equal(t, "World", first.ContextAfter)
	assert.Empty(t, first.PreviousTranslated)

	second := fake.requests[1]
	assert.Equal(t, "World", second.Text)
	assert.Equal(t, "Hello", second.ContextBefore)
	assert.Empty(t, second.ContextAfter)
	assert.Equal(t, "T(Hello)", second.PreviousTranslated)

	assert.Equal(t, "T(Hello)", segs[0].TextTranslated)
	assert.Equal(t, "T(World)", segs[1].TextTranslated)
	assert.Equal(t, models.ConfidenceTranslated, segs[0].Confidence)
	assert.Equal(t, models.ConfidenceTranslated, segs[1].Confidence)
}

func TestTranslateAllWindowBounds(t *testing.T) {
	const n, w = 12, 2

	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("line-%02d", i)
	}

	fake := &fakeTranslator{}
	ct := New(fake, "German", w)

	_, err := ct.TranslateAll(context.Background(), segmentsFromTexts(texts...))
	require.NoError(t, err)
	require.Len(t, fake.requests, n)

	countLines := func(s string) int {
		if s == "" {
			return 0
		}
		return len(strings.Split(s, "\n"))
	}

	for i, req := range fake.requests {
		assert.LessOrEqual(t, countLines(req.ContextBefore), w, "segment %d before", i)
		assert.LessOrEqual(t, countLines(req.ContextAfter), w, "segment %d after", i)
		assert.LessOrEqual(t, countLines(req.PreviousTranslated), w, "segment %d previous", i)
	}

	// Middle segment sees exactly the adjacent window, not the whole stream
	mid := fake.requests[6]
	assert.Equal(t, "line-04\nline-05", mid.ContextBefore)
	assert.Equal(t, "line-07\nline-08", mid.ContextAfter)
	assert.Equal(t, "T(line-04)\nT(line-05)", mid.PreviousTranslated)
}

func TestTranslateAllFallbackContinues(t *testing.T) {
	fake := &fakeTranslator{failOn: map[string]bool{"two": true}}
	ct := New(fake, "Spanish", 3)

	segs := segmentsFromTexts("one", "two", "three")
	stats, err := ct.TranslateAll(context.Background(), segs)
	require.NoError(t, err)

	assert.Equal(t, Stats{Total: 3, Fallbacks: 1}, stats)

	assert.Equal(t, "T(one)", segs[0].TextTranslated)
	assert.Equal(t, "two", segs[1].TextTranslated, "failed segment falls back to original text")
	assert.Equal(t, "T(three)", segs[2].TextTranslated)

	// The fallback keeps the transcription confidence rather than claiming a
	// translation happened.
	assert.Equal(t, models.ConfidenceTranscribed, segs[1].Confidence)
	assert.Equal(t, models.ConfidenceTranslated, segs[2].Confidence)

	// The untranslated fallback is still visible downstream as context.
	third := fake.requests[2]
	assert.Equal(t, "T(one)\ntwo", third.PreviousTranslated)
}

func TestTranslateAllZeroWindow(t *testing.T) {
	fake := &fakeTranslator{}
	ct := New(fake, "French", 0)

	_, err := ct.TranslateAll(context.Background(), segmentsFromTexts("a", "b", "c"))
	require.NoError(t, err)

	for i, req := range fake.requests {
		assert.Empty(t, req.ContextBefore, "segment %d", i)
		assert.Empty(t, req.ContextAfter, "segment %d", i)
		assert.Empty(t, req.PreviousTranslated, "segment %d", i)
	}
}

func TestTranslateAllEmptySegmentList(t *testing.T) {
	fake := &fakeTranslator{}
	ct := New(fake, "French", 3)

	stats, err := ct.TranslateAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, fake.requests)
}

func TestTranslateAllCancelled(t *testing.T) {
	fake := &fakeTranslator{}
	ct := New(fake, "French", 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ct.TranslateAll(ctx, segmentsFromTexts("a", "b"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.requests)
}

func TestRetranslateOne(t *testing.T) {
	fake := &fakeTranslator{}
	ct := New(fake, "French", 2)

	out, err := ct.RetranslateOne(context.Background(), "target",
		[]string{"b1", "b2", "b3"},
		[]string{"a1", "a2", "a3"},
		[]string{"p1", "p2", "p3"},
	)
	require.NoError(t, err)
	assert.Equal(t, "T(target)", out)

	req := fake.requests[0]
	assert.Equal(t, "b2\nb3", req.ContextBefore, "keeps the nearest preceding neighbors")
	assert.Equal(t, "a1\na2", req.ContextAfter, "keeps the nearest following neighbors")
	assert.Equal(t, "p2\np3", req.PreviousTranslated)
}

func TestRetranslateOnePropagatesFailure(t *testing.T) {
	fake := &fakeTranslator{failOn: map[string]bool{"target": true}}
	ct := New(fake, "French", 2)

	_, err := ct.RetranslateOne(context.Background(), "target", nil, nil, nil)
	assert.Error(t, err)
}
