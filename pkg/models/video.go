package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Video represents an uploaded video and its subtitle processing job
type Video struct {
	ID         string        `json:"id" db:"id"`
	Filename   string        `json:"filename" db:"filename"`
	StorageKey string        `json:"storage_key" db:"storage_key"`
	Status     string        `json:"status" db:"status"`
	Duration   *float64      `json:"duration,omitempty" db:"duration"`
	Config     ProcessConfig `json:"config" db:"config"`
	ErrorMsg   string        `json:"error_msg,omitempty" db:"error_msg"`
	Attempts   int           `json:"attempts" db:"attempts"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
}

// ProcessConfig holds per-video pipeline configuration, immutable once
// processing starts
type ProcessConfig struct {
	BatchSize     int    `json:"batch_size"`
	ContextWindow int    `json:"context_window"`
	WhisperModel  string `json:"whisper_model"`
}

// DefaultProcessConfig returns the configuration applied when the upload
// supplies no overrides
func DefaultProcessConfig() ProcessConfig {
	return ProcessConfig{
		BatchSize:     15,
		ContextWindow: 3,
		WhisperModel:  "base",
	}
}

var whisperModels = map[string]bool{
	"tiny":   true,
	"base":   true,
	"small":  true,
	"medium": true,
	"large":  true,
}

// Validate checks the configuration at upload time, before it is persisted
func (pc ProcessConfig) Validate() error {
	if pc.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", pc.BatchSize)
	}
	if pc.ContextWindow < 0 {
		return fmt.Errorf("context_window must not be negative, got %d", pc.ContextWindow)
	}
	if !whisperModels[pc.WhisperModel] {
		return fmt.Errorf("unknown whisper model %q", pc.WhisperModel)
	}
	return nil
}

// Value implements driver.Valuer for database storage
func (pc ProcessConfig) Value() (driver.Value, error) {
	return json.Marshal(pc)
}

// Scan implements sql.Scanner for database retrieval
func (pc *ProcessConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, pc)
}

// VideoStatus constants
const (
	VideoStatusUploading  = "uploading"
	VideoStatusProcessing = "processing"
	VideoStatusReady      = "ready"
	VideoStatusError      = "error"
)

// legal forward transitions of the job state machine
var transitions = map[string][]string{
	VideoStatusUploading:  {VideoStatusProcessing},
	VideoStatusProcessing: {VideoStatusReady, VideoStatusError},
	VideoStatusReady:      {},
	VideoStatusError:      {},
}

// CanTransition reports whether a status move is legal. READY and ERROR are
// terminal; a failed job re-enters PROCESSING only through an explicit retry.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func IsTerminal(status string) bool {
	return status == VideoStatusReady || status == VideoStatusError
}

// CanReenterProcessing reports whether a retry attempt may run the pipeline
// again for a job in the given status. READY never re-runs.
func CanReenterProcessing(status string) bool {
	return status == VideoStatusError || status == VideoStatusProcessing
}
