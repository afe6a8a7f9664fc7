package models

import "time"

// Subtitle represents one timed cue of a video's subtitle track
type Subtitle struct {
	ID             int64     `json:"id" db:"id"`
	VideoID        string    `json:"video_id" db:"video_id"`
	StartTime      float64   `json:"start_time" db:"start_time"`
	EndTime        float64   `json:"end_time" db:"end_time"`
	TextOriginal   string    `json:"text_original" db:"text_original"`
	TextTranslated string    `json:"text_translated" db:"text_translated"`
	Confidence     float64   `json:"confidence" db:"confidence"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// Confidence conventions. Whisper segment-level confidence is not cheap to
// obtain, so transcription carries a placeholder rather than a measured score.
const (
	// ConfidenceManual marks human-authored or human-edited cues.
	ConfidenceManual = 1.0
	// ConfidenceTranscribed is a placeholder, not an acoustic confidence.
	ConfidenceTranscribed = 1.0
	// ConfidenceTranslated is the heuristic score for machine-translated text.
	ConfidenceTranslated = 0.9
)

// Segment is one pipeline result record before persistence: times in seconds,
// original text from transcription, translated text from the context-chained
// translation stage.
type Segment struct {
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	TextOriginal   string  `json:"text_original"`
	TextTranslated string  `json:"text_translated"`
	Confidence     float64 `json:"confidence"`
}
