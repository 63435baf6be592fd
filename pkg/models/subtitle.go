package models

import "time"

// Subtitle represents a stored caption file for a video
type Subtitle struct {
	ID        string    `json:"id" db:"id"`
	VideoID   string    `json:"video_id" db:"video_id"`
	Language  string    `json:"language" db:"language"`
	Format    string    `json:"format" db:"format"`
	Key       string    `json:"-" db:"object_key"`
	CueCount  int       `json:"cue_count" db:"cue_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SubtitleFormat constants
const (
	SubtitleFormatSRT = "srt"
	SubtitleFormatVTT = "vtt"
)
