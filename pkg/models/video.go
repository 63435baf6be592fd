package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Video represents an uploaded video and its processing state.
// The *Key fields are object-store keys; clients receive presigned URLs.
type Video struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Filename        string          `json:"filename" db:"filename"`
	SourceKey       string          `json:"-" db:"source_key"`
	Size            int64           `json:"size" db:"size"`
	Format          string          `json:"format" db:"format"`
	DurationMinutes decimal.Decimal `json:"duration_minutes" db:"duration_minutes"`
	Width           int             `json:"width" db:"width"`
	Height          int             `json:"height" db:"height"`
	HasVideo        bool            `json:"has_video" db:"has_video"`
	Language        string          `json:"language" db:"language"`
	Status          string          `json:"status" db:"status"`
	Charged         bool            `json:"charged" db:"charged"`
	ErrorMsg        string          `json:"error_msg,omitempty" db:"error_msg"`

	DubbingStatus   string `json:"dubbing_status" db:"dubbing_status"`
	DubbingID       string `json:"dubbing_id,omitempty" db:"dubbing_id"`
	DubbingLanguage string `json:"dubbing_language,omitempty" db:"dubbing_language"`
	DubbedMediaKey  string `json:"-" db:"dubbed_media_key"`
	IsDubbedAudio   bool   `json:"is_dubbed_audio" db:"is_dubbed_audio"`

	BurnedVideoKey string      `json:"-" db:"burned_video_key"`
	SubtitleStyles *RenderSpec `json:"subtitle_styles,omitempty" db:"subtitle_styles"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// VideoStatus constants
const (
	VideoStatusQueued     = "queued"
	VideoStatusProcessing = "processing"
	VideoStatusCompleted  = "completed"
	VideoStatusFailed     = "failed"
)

// DubbingStatus constants
const (
	DubbingStatusNone      = "none"
	DubbingStatusRequested = "requested"
	DubbingStatusPending   = "pending"
	DubbingStatusReady     = "ready"
	DubbingStatusFailed    = "failed"
)

// Audio track choices for burn-in
const (
	AudioOriginal = "original"
	AudioDubbed   = "dubbed"
)

var videoTransitions = map[string][]string{
	VideoStatusQueued:     {VideoStatusProcessing, VideoStatusFailed},
	VideoStatusProcessing: {VideoStatusCompleted, VideoStatusFailed},
	VideoStatusCompleted:  {VideoStatusProcessing, VideoStatusFailed},
	VideoStatusFailed:     {VideoStatusProcessing},
}

// CanTransition reports whether a video may move from one status to another.
// completed -> processing is only taken by an explicit regenerate request.
func CanTransition(from, to string) bool {
	for _, next := range videoTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalDubbingStatus reports whether a dubbing sub-state needs no further polling
func IsTerminalDubbingStatus(status string) bool {
	return status == DubbingStatusReady || status == DubbingStatusFailed || status == DubbingStatusNone
}
