// Package worker consumes processing tasks from the queue and drives the
// pipeline for each one. Delivery is at-least-once: a claimed video may have
// been processed before, so every step tolerates re-execution.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/subvox/subvox/internal/database"
	"github.com/subvox/subvox/internal/logging"
	"github.com/subvox/subvox/internal/metrics"
	"github.com/subvox/subvox/internal/pipeline"
	"github.com/subvox/subvox/pkg/models"
)

// JobStore is the repository surface the runner needs
type JobStore interface {
	StartAttempt(ctx context.Context, id string) (*models.Video, error)
	MarkError(ctx context.Context, id, reason string) error
	ReplaceSubtitles(ctx context.Context, videoID string, segments []models.Segment) error
}

// ObjectStore fetches the uploaded media from object storage
type ObjectStore interface {
	DownloadFile(ctx context.Context, objectName, filePath string) error
}

// PipelineRunner executes the four-stage pipeline for one video
type PipelineRunner interface {
	Run(ctx context.Context, videoID, videoPath string, cfg models.ProcessConfig) (*pipeline.Result, error)
}

// Invalidator drops cached entries after a video's state changes
type Invalidator interface {
	Invalidate(ctx context.Context, videoID string) error
}

// Runner handles one queue delivery at a time
type Runner struct {
	store    JobStore
	objects  ObjectStore
	pipeline PipelineRunner
	cache    Invalidator
	tempDir  string
	logger   *logging.Logger
}

// NewRunner wires the task runner. cache may be nil.
func NewRunner(store JobStore, objects ObjectStore, p PipelineRunner, cache Invalidator, tempDir string, logger *logging.Logger) *Runner {
	return &Runner{
		store:    store,
		objects:  objects,
		pipeline: p,
		cache:    cache,
		tempDir:  tempDir,
		logger:   logger,
	}
}

// Handle processes one delivery. A nil return acknowledges the task; a
// non-nil return sends it back through the retry queue. Redeliveries of
// already-finished jobs are acknowledged without work.
func (r *Runner) Handle(ctx context.Context, task *models.ProcessTask, attempt int) error {
	log := r.logger.WithVideoID(task.VideoID)

	if attempt > 0 {
		metrics.JobRetriesTotal.Inc()
		log.Infof("retrying job, attempt %d", attempt+1)
	}

	video, err := r.store.StartAttempt(ctx, task.VideoID)
	if errors.Is(err, database.ErrNotFound) {
		// Video deleted while the task sat in the queue
		log.Warn("dropping task for unknown video")
		return nil
	}
	if errors.Is(err, database.ErrTerminal) {
		// Duplicate delivery of a job that already finished
		log.Info("skipping task, job already completed")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}

	log.Infof("starting pipeline run, attempt %d", video.Attempts)

	if err := os.MkdirAll(r.tempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	scratch, err := os.MkdirTemp(r.tempDir, "job-")
	if err != nil {
		return fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	localPath := filepath.Join(scratch, filepath.Base(video.StorageKey))
	if err := r.objects.DownloadFile(ctx, video.StorageKey, localPath); err != nil {
		return r.fail(ctx, log, video.ID, fmt.Errorf("failed to fetch media: %w", err), true)
	}

	result, err := r.pipeline.Run(ctx, video.ID, localPath, video.Config)
	if err != nil {
		// A vanished source cannot recover on retry
		retryable := !errors.Is(err, pipeline.ErrMediaMissing)
		return r.fail(ctx, log, video.ID, err, retryable)
	}

	if err := r.store.ReplaceSubtitles(ctx, video.ID, result.Segments); err != nil {
		return r.fail(ctx, log, video.ID, err, true)
	}

	metrics.JobsCompletedTotal.WithLabelValues(models.VideoStatusReady).Inc()
	metrics.SubtitlesPersistedTotal.Add(float64(len(result.Segments)))
	r.invalidate(ctx, log, video.ID)

	log.Infof("job finished, %d subtitles persisted, %d fallbacks", len(result.Segments), result.Stats.Fallbacks)
	return nil
}

// fail records the failure on the job and decides whether the queue should
// retry. The status write happens on every attempt; a later successful run
// clears it.
func (r *Runner) fail(ctx context.Context, log *logging.Logger, videoID string, cause error, retryable bool) error {
	log.WithError(cause).Error("pipeline run failed")

	if err := r.store.MarkError(ctx, videoID, cause.Error()); err != nil {
		log.WithError(err).Error("failed to record job failure")
	}
	metrics.JobsCompletedTotal.WithLabelValues(models.VideoStatusError).Inc()
	r.invalidate(ctx, log, videoID)

	if !retryable {
		return nil
	}
	return cause
}

func (r *Runner) invalidate(ctx context.Context, log *logging.Logger, videoID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, videoID); err != nil {
		log.WithError(err).Warn("cache invalidation failed")
	}
}
