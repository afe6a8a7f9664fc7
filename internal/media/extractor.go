package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// ExtractionError indicates the source video could not be decoded into the
// normalized waveform. Fatal to the pipeline run.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("audio extraction failed for %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor wraps FFmpeg audio operations
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewExtractor creates a new extractor
func NewExtractor(ffmpegPath, ffprobePath string) *Extractor {
	return &Extractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// ExtractAudio decodes the video's audio track into a mono 16 kHz s16le WAV
// file, the input format both the speech detector and whisper expect.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, wavPath string) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		"-y", wavPath,
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &ExtractionError{
			Path: videoPath,
			Err:  fmt.Errorf("ffmpeg: %w, stderr: %s", err, stderr.String()),
		}
	}

	return nil
}

// ProbeDuration returns the container duration in seconds
func (e *Extractor) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var metadata struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(metadata.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", metadata.Format.Duration, err)
	}

	return duration, nil
}
