package models

import "time"

// Event types published on stage transitions
const (
	EventVideoUploaded      = "video.uploaded"
	EventSubtitlesCompleted = "subtitles.completed"
	EventSubtitlesFailed    = "subtitles.failed"
	EventDubbingRequested   = "dubbing.requested"
	EventDubbingReady       = "dubbing.ready"
	EventDubbingFailed      = "dubbing.failed"
	EventBurnCompleted      = "burn.completed"
	EventBurnFailed         = "burn.failed"
	EventVideoDeleted       = "video.deleted"
)

// Event is a stage notification carried over the message queue
type Event struct {
	Type      string    `json:"type"`
	VideoID   string    `json:"video_id"`
	UserID    string    `json:"user_id"`
	DubbingID string    `json:"dubbing_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
