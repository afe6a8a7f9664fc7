package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subvox/subvox/pkg/models"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Video Cache Operations

// SetVideo caches video metadata
func (c *Cache) SetVideo(ctx context.Context, video *models.Video) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	key := fmt.Sprintf("video:%s", video.ID)
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetVideo retrieves video metadata from cache
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	key := fmt.Sprintf("video:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var video models.Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// DeleteVideo removes video from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("video:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Subtitle Cache Operations

// SetSubtitles caches a video's full subtitle list
func (c *Cache) SetSubtitles(ctx context.Context, videoID string, subs []*models.Subtitle) error {
	data, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("failed to marshal subtitles: %w", err)
	}

	key := fmt.Sprintf("subtitles:%s", videoID)
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetSubtitles retrieves a video's subtitle list from cache
func (c *Cache) GetSubtitles(ctx context.Context, videoID string) ([]*models.Subtitle, error) {
	key := fmt.Sprintf("subtitles:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get subtitles from cache: %w", err)
	}

	var subs []*models.Subtitle
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subtitles: %w", err)
	}

	return subs, nil
}

// DeleteSubtitles drops a video's cached subtitle list. Called after any
// mutation so readers never see stale edits.
func (c *Cache) DeleteSubtitles(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("subtitles:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Invalidate drops every cached entry for a video
func (c *Cache) Invalidate(ctx context.Context, videoID string) error {
	if err := c.DeleteVideo(ctx, videoID); err != nil {
		return err
	}
	return c.DeleteSubtitles(ctx, videoID)
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
