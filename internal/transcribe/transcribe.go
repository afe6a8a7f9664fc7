// Package transcribe decodes speech intervals to text through a
// whisper-server sidecar. Intervals have no cross-interval dependency, so
// they are transcribed concurrently with results assembled in order.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/subvox/subvox/internal/media"
	"github.com/subvox/subvox/internal/vad"
	"github.com/subvox/subvox/pkg/models"
)

// TranscriptionError indicates the whisper model could not serve the
// requested variant. Fatal to the pipeline run.
type TranscriptionError struct {
	Model string
	Err   error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed (model %s): %v", e.Model, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Transcriber is a client for the whisper sidecar
type Transcriber struct {
	baseURL     string
	httpClient  *http.Client
	concurrency int
}

// NewTranscriber creates a whisper client. concurrency bounds the number of
// intervals decoded at once.
func NewTranscriber(baseURL string, concurrency int) *Transcriber {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Transcriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Minute,
		},
		concurrency: concurrency,
	}
}

// Transcribe decodes each speech interval independently and returns one
// segment per interval, ordered by start time. Sample offsets become seconds
// by dividing by the fixed sample rate. The confidence on each segment is a
// constant placeholder, not an acoustic score: whisper segment-level
// confidence is not exposed by the sidecar.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, intervals []vad.Interval, model string) ([]models.Segment, error) {
	segments := make([]models.Segment, len(intervals))
	errs := make([]error, len(intervals))

	sem := make(chan struct{}, t.concurrency)
	var wg sync.WaitGroup

	for i, iv := range intervals {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, iv vad.Interval) {
			defer wg.Done()
			defer func() { <-sem }()

			start, end := iv.Start, iv.End
			if end > len(samples) {
				end = len(samples)
			}
			if start >= end {
				errs[idx] = fmt.Errorf("interval %d outside waveform", idx)
				return
			}

			text, err := t.transcribeSlice(ctx, samples[start:end], model)
			if err != nil {
				errs[idx] = err
				return
			}

			segments[idx] = models.Segment{
				Start:        float64(iv.Start) / media.SampleRate,
				End:          float64(iv.End) / media.SampleRate,
				TextOriginal: strings.TrimSpace(text),
				Confidence:   models.ConfidenceTranscribed,
			}
		}(i, iv)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, &TranscriptionError{Model: model, Err: err}
		}
	}

	return segments, nil
}

func (t *Transcriber) transcribeSlice(ctx context.Context, slice []float32, model string) (string, error) {
	tmp, err := os.CreateTemp("", "segment-*.wav")
	if err != nil {
		return "", fmt.Errorf("create scratch wav: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := media.WriteWAV(tmpPath, slice); err != nil {
		return "", fmt.Errorf("write scratch wav: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(tmpPath)
	if err != nil {
		return "", fmt.Errorf("open scratch wav: %w", err)
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return "", fmt.Errorf("copy audio data: %w", err)
	}

	writer.WriteField("model", model)
	writer.WriteField("language", "en")
	writer.WriteField("temperature", "0.0")
	writer.WriteField("response_format", "json")
	writer.Close()

	url := t.baseURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	return result.Text, nil
}
