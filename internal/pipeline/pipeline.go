// Package pipeline sequences the four stages that turn an uploaded video
// into a translated subtitle track: audio extraction, voice-activity
// segmentation, transcription, and context-chained translation. One job is
// one strictly sequential pipeline; each stage consumes the complete output
// of the previous one.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/subvox/subvox/internal/logging"
	"github.com/subvox/subvox/internal/media"
	"github.com/subvox/subvox/internal/metrics"
	"github.com/subvox/subvox/internal/tracing"
	"github.com/subvox/subvox/internal/translate"
	"github.com/subvox/subvox/internal/vad"
	"github.com/subvox/subvox/pkg/models"
)

// ErrMediaMissing indicates the source artifact disappeared before the run
// started
var ErrMediaMissing = errors.New("source media file missing")

// AudioExtractor produces the normalized mono 16 kHz waveform
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, wavPath string) error
}

// SpeechDetector yields ordered non-overlapping speech intervals
type SpeechDetector interface {
	Detect(ctx context.Context, wavPath string) ([]vad.Interval, error)
}

// SegmentTranscriber decodes the speech intervals to text
type SegmentTranscriber interface {
	Transcribe(ctx context.Context, samples []float32, intervals []vad.Interval, model string) ([]models.Segment, error)
}

// Result is one successful pipeline run
type Result struct {
	Segments []models.Segment
	Stats    translate.Stats
}

// Orchestrator runs the pipeline for one video at a time
type Orchestrator struct {
	extractor      AudioExtractor
	detector       SpeechDetector
	transcriber    SegmentTranscriber
	translator     translate.SentenceTranslator
	targetLanguage string
	tempDir        string
	stageTimeout   time.Duration
	logger         *logging.Logger
}

// NewOrchestrator wires the pipeline stages. The translation client is
// injected here, constructed once at process start. A positive stageTimeout
// bounds each individual stage; zero leaves stages unbounded.
func NewOrchestrator(
	extractor AudioExtractor,
	detector SpeechDetector,
	transcriber SegmentTranscriber,
	translator translate.SentenceTranslator,
	targetLanguage string,
	tempDir string,
	stageTimeout time.Duration,
	logger *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		extractor:      extractor,
		detector:       detector,
		transcriber:    transcriber,
		translator:     translator,
		targetLanguage: targetLanguage,
		tempDir:        tempDir,
		stageTimeout:   stageTimeout,
		logger:         logger,
	}
}

// Run executes the full pipeline for one video file. The scratch audio
// artifact is removed on every exit path. The first fatal stage error
// propagates unchanged; only per-segment translation failures are recovered
// inside the translation stage.
func (o *Orchestrator) Run(ctx context.Context, videoID, videoPath string, cfg models.ProcessConfig) (*Result, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMediaMissing, videoPath)
	}

	if err := os.MkdirAll(o.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	scratch, err := os.MkdirTemp(o.tempDir, "run-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	wavPath := filepath.Join(scratch, "audio.wav")

	log := o.logger.WithVideoID(videoID)

	// Stage 1: extract normalized audio
	if err := o.stage(ctx, videoID, "extract", func(ctx context.Context) error {
		return o.extractor.ExtractAudio(ctx, videoPath, wavPath)
	}); err != nil {
		return nil, err
	}

	var samples []float32
	if err := o.stage(ctx, videoID, "decode", func(ctx context.Context) error {
		var err error
		samples, err = media.ReadWAV(wavPath)
		if err != nil {
			return &media.ExtractionError{Path: wavPath, Err: err}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Stage 2: voice activity detection
	var intervals []vad.Interval
	if err := o.stage(ctx, videoID, "segment", func(ctx context.Context) error {
		var err error
		intervals, err = o.detector.Detect(ctx, wavPath)
		return err
	}); err != nil {
		return nil, err
	}

	metrics.SpeechIntervalsDetected.Observe(float64(len(intervals)))
	log.Infof("detected %d speech intervals", len(intervals))

	// Stage 3: transcription
	var segments []models.Segment
	if err := o.stage(ctx, videoID, "transcribe", func(ctx context.Context) error {
		var err error
		segments, err = o.transcriber.Transcribe(ctx, samples, intervals, cfg.WhisperModel)
		return err
	}); err != nil {
		return nil, err
	}

	metrics.SegmentsTranscribedTotal.Add(float64(len(segments)))

	// Stage 4: context-chained translation
	translator := translate.New(o.translator, o.targetLanguage, cfg.ContextWindow)

	var stats translate.Stats
	if err := o.stage(ctx, videoID, "translate", func(ctx context.Context) error {
		var err error
		stats, err = translator.TranslateAll(ctx, segments)
		return err
	}); err != nil {
		return nil, err
	}

	metrics.TranslationFallbacksTotal.Add(float64(stats.Fallbacks))
	log.LogTranslationBatch(videoID, stats.Total, stats.Fallbacks)

	return &Result{Segments: segments, Stats: stats}, nil
}

func (o *Orchestrator) stage(ctx context.Context, videoID, name string, fn func(context.Context) error) error {
	span, ctx := tracing.StartSpan(ctx, "pipeline."+name)
	defer span.Finish()
	span.SetTag("video_id", videoID)

	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	metrics.PipelineStageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	o.logger.LogStageDone(videoID, name, elapsed, err)
	tracing.LogError(span, err)

	return err
}
