// Package vad talks to a silero-vad detector sidecar over HTTP. The detector
// classifies regions of the normalized waveform as speech and returns ordered,
// non-overlapping sample intervals. Same audio and same model version yield
// the same intervals.
package vad

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// speechThreshold is the fixed speech-probability cutoff handed to the
// detector model.
const speechThreshold = 0.5

// SegmentationError indicates the detector model could not be loaded or the
// detector service failed. Fatal to the pipeline run.
type SegmentationError struct {
	Err error
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("speech segmentation failed: %v", e.Err)
}

func (e *SegmentationError) Unwrap() error { return e.Err }

// Interval is a half-open span of sample offsets classified as speech
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Detector is a client for the VAD sidecar
type Detector struct {
	baseURL    string
	httpClient *http.Client
}

// NewDetector creates a client for the detector service
func NewDetector(baseURL string) *Detector {
	return &Detector{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}
}

// Detect posts the normalized WAV to the detector and returns the speech
// intervals in sample offsets. An empty result is valid and produces zero
// subtitles downstream.
func (d *Detector) Detect(ctx context.Context, wavPath string) ([]Interval, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioFile, err := os.Open(wavPath)
	if err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("open audio: %w", err)}
	}
	defer audioFile.Close()

	part, err := writer.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("copy audio data: %w", err)}
	}

	writer.WriteField("threshold", fmt.Sprintf("%.2f", speechThreshold))
	writer.Close()

	url := d.baseURL + "/detect"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("detector request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &SegmentationError{Err: fmt.Errorf("detector error (status %d): %s", resp.StatusCode, string(body))}
	}

	var result struct {
		Segments []Interval `json:"segments"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &SegmentationError{Err: fmt.Errorf("parse response: %w", err)}
	}

	if err := validateIntervals(result.Segments); err != nil {
		return nil, &SegmentationError{Err: err}
	}

	return result.Segments, nil
}

func validateIntervals(intervals []Interval) error {
	prevEnd := -1
	for i, iv := range intervals {
		if iv.Start < 0 || iv.End <= iv.Start {
			return fmt.Errorf("malformed interval %d: [%d, %d)", i, iv.Start, iv.End)
		}
		if iv.Start < prevEnd {
			return fmt.Errorf("interval %d overlaps its predecessor", i)
		}
		prevEnd = iv.End
	}
	return nil
}
