package main

import (
	"context"

	"github.com/subvox/subvox/pkg/models"
)

// VideoStore is the repository surface the API handlers use
type VideoStore interface {
	Health(ctx context.Context) error
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpdateVideoStatus(ctx context.Context, id, to string) error
	MarkError(ctx context.Context, id, reason string) error
	DeleteVideo(ctx context.Context, id string) error
	ListSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error)
	GetSubtitle(ctx context.Context, id int64) (*models.Subtitle, error)
	CreateSubtitle(ctx context.Context, sub *models.Subtitle) error
	UpdateSubtitle(ctx context.Context, sub *models.Subtitle) error
	DeleteSubtitle(ctx context.Context, id int64) error
	Neighbors(ctx context.Context, videoID string, startTime float64, limit int) (before, after []*models.Subtitle, err error)
}

// ObjectStore is the storage surface the API handlers use
type ObjectStore interface {
	UploadFile(ctx context.Context, objectName, filePath string) error
	Delete(ctx context.Context, objectName string) error
	GetURL(ctx context.Context, objectName string) (string, error)
}

// TaskQueue enqueues processing tasks
type TaskQueue interface {
	PublishTask(ctx context.Context, task *models.ProcessTask) error
}

// StatusCache is the cache-aside surface for video status and subtitle reads
type StatusCache interface {
	GetVideo(ctx context.Context, videoID string) (*models.Video, error)
	SetVideo(ctx context.Context, video *models.Video) error
	GetSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error)
	SetSubtitles(ctx context.Context, videoID string, subs []*models.Subtitle) error
	Invalidate(ctx context.Context, videoID string) error
}

// DurationProber reads the media duration at upload time
type DurationProber interface {
	ProbeDuration(ctx context.Context, inputPath string) (float64, error)
}
