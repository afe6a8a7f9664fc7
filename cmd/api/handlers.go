package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/subvox/subvox/internal/database"
	"github.com/subvox/subvox/internal/metrics"
	"github.com/subvox/subvox/internal/srt"
	"github.com/subvox/subvox/internal/translate"
	"github.com/subvox/subvox/pkg/models"
)

// Upload video endpoint. Accepts the media file plus optional per-video
// pipeline overrides, stores the original, and enqueues the processing task.
func (api *API) uploadVideo(c *gin.Context) {
	file, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}

	cfg := models.DefaultProcessConfig()
	if v := c.PostForm("batch_size"); v != "" {
		if cfg.BatchSize, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid batch_size"})
			return
		}
	}
	if v := c.PostForm("context_window"); v != "" {
		if cfg.ContextWindow, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid context_window"})
			return
		}
	}
	if v := c.PostForm("whisper_model"); v != "" {
		cfg.WhisperModel = v
	}
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Save to temporary location
	if err := os.MkdirAll(api.tempDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}
	tempPath := filepath.Join(api.tempDir, uuid.New().String())
	if err := c.SaveUploadedFile(file, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}
	defer os.Remove(tempPath)

	video := &models.Video{
		ID:       uuid.New().String(),
		Filename: file.Filename,
		Status:   models.VideoStatusUploading,
		Config:   cfg,
	}

	// Duration is informational; a probe failure does not block the upload
	if duration, err := api.prober.ProbeDuration(c.Request.Context(), tempPath); err == nil {
		video.Duration = &duration
	} else {
		api.logger.WithVideoID(video.ID).WithError(err).Warn("duration probe failed")
	}

	storageKey := fmt.Sprintf("videos/%s/%s", video.ID, file.Filename)
	if err := api.storage.UploadFile(c.Request.Context(), storageKey, tempPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to upload: %v", err)})
		return
	}
	video.StorageKey = storageKey

	if err := api.repo.CreateVideo(c.Request.Context(), video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create video: %v", err)})
		return
	}

	if err := api.repo.UpdateVideoStatus(c.Request.Context(), video.ID, models.VideoStatusProcessing); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to start processing: %v", err)})
		return
	}
	video.Status = models.VideoStatusProcessing

	task := &models.ProcessTask{VideoID: video.ID, FilePath: storageKey}
	if err := api.queue.PublishTask(c.Request.Context(), task); err != nil {
		// The upload persisted; record the failure so a caller sees ERROR
		// instead of a job stuck in PROCESSING
		if markErr := api.repo.MarkError(c.Request.Context(), video.ID, "failed to enqueue processing task"); markErr != nil {
			api.logger.WithVideoID(video.ID).WithError(markErr).Error("failed to record enqueue failure")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to queue job: %v", err)})
		return
	}

	metrics.VideoUploadsTotal.Inc()
	c.JSON(http.StatusAccepted, video)
}

// Get video status endpoint
func (api *API) getVideoStatus(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	video, err := api.cache.GetVideo(ctx, videoID)
	if err != nil {
		api.logger.WithVideoID(videoID).WithError(err).Warn("cache read failed")
	}

	if video == nil {
		video, err = api.repo.GetVideo(ctx, videoID)
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := api.cache.SetVideo(ctx, video); err != nil {
			api.logger.WithVideoID(videoID).WithError(err).Warn("cache write failed")
		}
	}

	// Presigned per request; absence is reported as an empty URL
	var videoURL string
	if video.StorageKey != "" {
		videoURL, err = api.storage.GetURL(ctx, video.StorageKey)
		if err != nil {
			api.logger.WithVideoID(videoID).WithError(err).Warn("failed to presign media URL")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"id":        video.ID,
		"filename":  video.Filename,
		"status":    video.Status,
		"video_url": videoURL,
		"duration":  video.Duration,
		"attempts":  video.Attempts,
		"error_msg": video.ErrorMsg,
	})
}

// List subtitles endpoint
func (api *API) listSubtitles(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	subs, err := api.cache.GetSubtitles(ctx, videoID)
	if err != nil {
		api.logger.WithVideoID(videoID).WithError(err).Warn("cache read failed")
	}

	if subs == nil {
		if _, err := api.repo.GetVideo(ctx, videoID); errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}

		subs, err = api.repo.ListSubtitles(ctx, videoID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(subs) > 0 {
			if err := api.cache.SetSubtitles(ctx, videoID, subs); err != nil {
				api.logger.WithVideoID(videoID).WithError(err).Warn("cache write failed")
			}
		}
	}

	if subs == nil {
		subs = []*models.Subtitle{}
	}
	c.JSON(http.StatusOK, gin.H{"subtitles": subs})
}

// subtitleRequest is a partial mutation: absent fields leave the stored
// value untouched on update. Creation requires timing and original text.
type subtitleRequest struct {
	StartTime          *float64 `json:"start_time"`
	EndTime            *float64 `json:"end_time"`
	TextOriginal       *string  `json:"text_original"`
	TextTranslated     *string  `json:"text_translated"`
	TriggerTranslation bool     `json:"trigger_translation"`
}

func (r subtitleRequest) validateCreate() error {
	if r.StartTime == nil || r.EndTime == nil {
		return errors.New("start_time and end_time are required")
	}
	if r.TextOriginal == nil {
		return errors.New("text_original is required")
	}
	return validateSubtitle(*r.StartTime, *r.EndTime, *r.TextOriginal)
}

// apply copies the present fields onto the subtitle and reports whether the
// result is still well formed.
func (r subtitleRequest) apply(sub *models.Subtitle) error {
	if r.StartTime != nil {
		sub.StartTime = *r.StartTime
	}
	if r.EndTime != nil {
		sub.EndTime = *r.EndTime
	}
	if r.TextOriginal != nil {
		sub.TextOriginal = *r.TextOriginal
	}
	if r.TextTranslated != nil {
		sub.TextTranslated = *r.TextTranslated
	}
	return validateSubtitle(sub.StartTime, sub.EndTime, sub.TextOriginal)
}

func validateSubtitle(start, end float64, textOriginal string) error {
	if start < 0 {
		return errors.New("start_time must not be negative")
	}
	if end <= start {
		return errors.New("end_time must be greater than start_time")
	}
	if strings.TrimSpace(textOriginal) == "" {
		return errors.New("text_original must not be empty")
	}
	return nil
}

// Create subtitle endpoint. Manual entries carry full confidence.
func (api *API) createSubtitle(c *gin.Context) {
	videoID := c.Param("id")

	var req subtitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validateCreate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if _, err := api.repo.GetVideo(ctx, videoID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sub := &models.Subtitle{
		VideoID:      videoID,
		StartTime:    *req.StartTime,
		EndTime:      *req.EndTime,
		TextOriginal: *req.TextOriginal,
		Confidence:   models.ConfidenceManual,
	}
	if req.TextTranslated != nil {
		sub.TextTranslated = *req.TextTranslated
	}

	if err := api.repo.CreateSubtitle(ctx, sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create subtitle: %v", err)})
		return
	}

	api.invalidate(c, videoID)
	c.JSON(http.StatusCreated, sub)
}

// Update subtitle endpoint. With trigger_translation set, the edited
// original text is re-translated against its persisted neighbors; a failed
// translation keeps the edit and logs the failure.
func (api *API) updateSubtitle(c *gin.Context) {
	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subtitle ID"})
		return
	}

	var req subtitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	sub, err := api.repo.GetSubtitle(ctx, subID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subtitle not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := req.apply(sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub.Confidence = models.ConfidenceManual

	if req.TriggerTranslation {
		api.retranslate(c, sub)
	}

	if err := api.repo.UpdateSubtitle(ctx, sub); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subtitle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to update subtitle: %v", err)})
		return
	}

	api.invalidate(c, sub.VideoID)
	c.JSON(http.StatusOK, sub)
}

// retranslate rebuilds the translation context from the persisted neighbors
// of the edited subtitle and re-runs the single-sentence translation. The
// failure mode is deliberately soft.
func (api *API) retranslate(c *gin.Context, sub *models.Subtitle) {
	ctx := c.Request.Context()
	log := api.logger.WithVideoID(sub.VideoID).WithSubtitleID(sub.ID)

	window := models.DefaultProcessConfig().ContextWindow
	if video, err := api.repo.GetVideo(ctx, sub.VideoID); err == nil {
		window = video.Config.ContextWindow
	}

	beforeSubs, afterSubs, err := api.repo.Neighbors(ctx, sub.VideoID, sub.StartTime, window)
	if err != nil {
		log.WithError(err).Warn("failed to load translation context, keeping edit untranslated")
		return
	}

	var before, after, previous []string
	for _, n := range beforeSubs {
		before = append(before, n.TextOriginal)
		if n.TextTranslated != "" {
			previous = append(previous, n.TextTranslated)
		}
	}
	for _, n := range afterSubs {
		after = append(after, n.TextOriginal)
	}

	translator := translate.New(api.translator, api.targetLang, window)
	translated, err := translator.RetranslateOne(ctx, sub.TextOriginal, before, after, previous)
	if err != nil {
		log.WithError(err).Warn("re-translation failed, keeping edit untranslated")
		return
	}

	sub.TextTranslated = translated
	sub.Confidence = models.ConfidenceTranslated
}

// Delete subtitle endpoint
func (api *API) deleteSubtitle(c *gin.Context) {
	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subtitle ID"})
		return
	}

	ctx := c.Request.Context()
	sub, err := api.repo.GetSubtitle(ctx, subID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Subtitle not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := api.repo.DeleteSubtitle(ctx, subID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Subtitle not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete subtitle: %v", err)})
		return
	}

	api.invalidate(c, sub.VideoID)
	c.JSON(http.StatusOK, gin.H{"message": "Subtitle deleted", "subtitle_id": subID})
}

// Export subtitles endpoint. Renders the persisted track as an SRT
// attachment; only finished jobs export.
func (api *API) exportSubtitles(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	translated := true
	if v := c.Query("translated"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid translated flag"})
			return
		}
		translated = parsed
	}

	video, err := api.repo.GetVideo(ctx, videoID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if video.Status != models.VideoStatusReady {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Video is %s, not ready for export", video.Status)})
		return
	}

	subs, err := api.repo.ListSubtitles(ctx, videoID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	base := strings.TrimSuffix(video.Filename, filepath.Ext(video.Filename))
	if base == "" {
		base = videoID
	}

	metrics.SubtitleExportsTotal.WithLabelValues(strconv.FormatBool(translated)).Inc()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.srt"`, base))
	c.Data(http.StatusOK, "application/x-subrip", []byte(srt.Format(subs, translated)))
}

// Delete video endpoint
func (api *API) deleteVideo(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	video, err := api.repo.GetVideo(ctx, videoID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Best effort; the database row is authoritative
	if video.StorageKey != "" {
		if err := api.storage.Delete(ctx, video.StorageKey); err != nil {
			api.logger.WithVideoID(videoID).WithError(err).Warn("failed to delete stored media")
		}
	}

	if err := api.repo.DeleteVideo(ctx, videoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete video: %v", err)})
		return
	}

	api.invalidate(c, videoID)
	c.JSON(http.StatusOK, gin.H{"message": "Video deleted", "video_id": videoID})
}

func (api *API) invalidate(c *gin.Context, videoID string) {
	if err := api.cache.Invalidate(c.Request.Context(), videoID); err != nil {
		api.logger.WithVideoID(videoID).WithError(err).Warn("cache invalidation failed")
	}
}
