package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	VideoUploadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subvox_video_uploads_total",
			Help: "Total number of video uploads",
		},
	)

	SubtitleExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subvox_subtitle_exports_total",
			Help: "Total number of subtitle exports",
		},
		[]string{"translated"},
	)

	// Pipeline metrics
	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subvox_jobs_completed_total",
			Help: "Total number of processing jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	JobRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subvox_job_retries_total",
			Help: "Total number of job retry attempts",
		},
	)

	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subvox_pipeline_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms to ~27m
		},
		[]string{"stage"},
	)

	SpeechIntervalsDetected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "subvox_speech_intervals_detected",
			Help:    "Speech intervals detected per video",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	SegmentsTranscribedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subvox_segments_transcribed_total",
			Help: "Total number of speech intervals transcribed",
		},
	)

	TranslationFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subvox_translation_fallbacks_total",
			Help: "Segments left untranslated after a failed translation call",
		},
	)

	SubtitlesPersistedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "subvox_subtitles_persisted_total",
			Help: "Total number of subtitle rows written by the bulk save",
		},
	)
)
