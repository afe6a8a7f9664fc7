package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvox/subvox/internal/logging"
	"github.com/subvox/subvox/internal/media"
	"github.com/subvox/subvox/internal/translate"
	"github.com/subvox/subvox/internal/vad"
	"github.com/subvox/subvox/pkg/models"
)

type fakeExtractor struct {
	calls int
	fail  error
}

func (f *fakeExtractor) ExtractAudio(_ context.Context, _, wavPath string) error {
	f.calls++
	if f.fail != nil {
		return f.fail
	}
	return media.WriteWAV(wavPath, make([]float32, 3200))
}

type fakeDetector struct {
	calls     int
	intervals []vad.Interval
	fail      error
}

func (f *fakeDetector) Detect(_ context.Context, _ string) ([]vad.Interval, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return f.intervals, nil
}

type fakeTranscriber struct {
	calls int
	model string
	fail  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, samples []float32, intervals []vad.Interval, model string) ([]models.Segment, error) {
	f.calls++
	f.model = model
	if f.fail != nil {
		return nil, f.fail
	}
	segs := make([]models.Segment, len(intervals))
	for i, iv := range intervals {
		segs[i] = models.Segment{
			Start:        float64(iv.Start) / media.SampleRate,
			End:          float64(iv.End) / media.SampleRate,
			TextOriginal: fmt.Sprintf("text-%d", i),
			Confidence:   models.ConfidenceTranscribed,
		}
	}
	return segs, nil
}

type fakeSentenceTranslator struct {
	calls int
	fail  bool
}

func (f *fakeSentenceTranslator) TranslateSentence(_ context.Context, req translate.SentenceRequest) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("translator down")
	}
	return "T(" + req.Text + ")", nil
}

func newTestOrchestrator(t *testing.T, ex *fakeExtractor, d *fakeDetector, tr *fakeTranscriber, sl *fakeSentenceTranslator) (*Orchestrator, string) {
	t.Helper()
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	tempDir := t.TempDir()
	return NewOrchestrator(ex, d, tr, sl, "French", tempDir, 0, logger), tempDir
}

func writeSourceVideo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0644))
	return path
}

func scratchDirsLeft(t *testing.T, tempDir string) int {
	t.Helper()
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	return len(entries)
}

func TestRunSuccess(t *testing.T) {
	ex := &fakeExtractor{}
	d := &fakeDetector{intervals: []vad.Interval{{Start: 0, End: 1600}, {Start: 1600, End: 3200}}}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{}

	o, tempDir := newTestOrchestrator(t, ex, d, tr, sl)

	result, err := o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.NoError(t, err)
	require.Len(t, result.Segments, 2)

	assert.Equal(t, "T(text-0)", result.Segments[0].TextTranslated)
	assert.Equal(t, "T(text-1)", result.Segments[1].TextTranslated)
	assert.Equal(t, translate.Stats{Total: 2, Fallbacks: 0}, result.Stats)

	assert.Equal(t, 1, ex.calls)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, 1, tr.calls)
	assert.Equal(t, "base", tr.model, "model selector comes from the per-video config")

	assert.Zero(t, scratchDirsLeft(t, tempDir), "scratch audio removed after success")
}

func TestRunMediaMissing(t *testing.T) {
	ex := &fakeExtractor{}
	d := &fakeDetector{}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{}

	o, _ := newTestOrchestrator(t, ex, d, tr, sl)

	_, err := o.Run(context.Background(), "vid-1", "/nonexistent/gone.mp4", models.DefaultProcessConfig())
	assert.ErrorIs(t, err, ErrMediaMissing)
	assert.Zero(t, ex.calls, "no stage runs when the source is gone")
}

func TestRunExtractionFailureIsFatal(t *testing.T) {
	extErr := &media.ExtractionError{Path: "input.mp4", Err: errors.New("no audio stream")}
	ex := &fakeExtractor{fail: extErr}
	d := &fakeDetector{}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{}

	o, tempDir := newTestOrchestrator(t, ex, d, tr, sl)

	_, err := o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.Error(t, err)

	var gotErr *media.ExtractionError
	assert.True(t, errors.As(err, &gotErr), "stage error propagates unchanged")
	assert.Zero(t, d.calls)
	assert.Zero(t, tr.calls)
	assert.Zero(t, scratchDirsLeft(t, tempDir), "scratch removed on failure too")
}

func TestRunSegmentationFailureIsFatal(t *testing.T) {
	segErr := &vad.SegmentationError{Err: errors.New("model load failed")}
	ex := &fakeExtractor{}
	d := &fakeDetector{fail: segErr}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{}

	o, _ := newTestOrchestrator(t, ex, d, tr, sl)

	_, err := o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.Error(t, err)

	var gotErr *vad.SegmentationError
	assert.True(t, errors.As(err, &gotErr))
	assert.Zero(t, tr.calls)
}

func TestRunNoSpeechIsNotAnError(t *testing.T) {
	ex := &fakeExtractor{}
	d := &fakeDetector{intervals: nil}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{}

	o, _ := newTestOrchestrator(t, ex, d, tr, sl)

	result, err := o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.NoError(t, err)
	assert.Empty(t, result.Segments)
	assert.Zero(t, sl.calls)
}

// stallingDetector blocks until its context is cancelled
type stallingDetector struct{}

func (s *stallingDetector) Detect(ctx context.Context, _ string) ([]vad.Interval, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunStageTimeoutBoundsStalledStage(t *testing.T) {
	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	tr := &fakeTranscriber{}
	o := NewOrchestrator(&fakeExtractor{}, &stallingDetector{}, tr, &fakeSentenceTranslator{},
		"French", t.TempDir(), 20*time.Millisecond, logger)

	_, err = o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, tr.calls, "later stages do not run after a timed-out stage")
}

func TestRunTranslationFailuresDoNotAbort(t *testing.T) {
	ex := &fakeExtractor{}
	d := &fakeDetector{intervals: []vad.Interval{{Start: 0, End: 1600}, {Start: 1600, End: 3200}}}
	tr := &fakeTranscriber{}
	sl := &fakeSentenceTranslator{fail: true}

	o, _ := newTestOrchestrator(t, ex, d, tr, sl)

	result, err := o.Run(context.Background(), "vid-1", writeSourceVideo(t), models.DefaultProcessConfig())
	require.NoError(t, err, "per-segment translation failure is recovered, not fatal")

	assert.Equal(t, 2, result.Stats.Fallbacks)
	assert.Equal(t, "text-0", result.Segments[0].TextTranslated, "fallback keeps the original text")
	assert.Equal(t, "text-1", result.Segments[1].TextTranslated)
}
