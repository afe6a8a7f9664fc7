package models

// ProcessTask is the background task message handed to the worker: the video
// id as a string plus the storage key of the uploaded file.
type ProcessTask struct {
	VideoID  string `json:"video_id"`
	FilePath string `json:"file_path"`
}
