package models

import (
	"time"
)

// VideoType classifies a provider-side stream or recording.
type VideoType string

const (
	VideoReady    VideoType = "ready"    // live input provisioned, ingest not yet confirmed
	VideoLive     VideoType = "live"     // remote input confirmed connected
	VideoRecorded VideoType = "recorded" // finalized recording
	VideoReplay   VideoType = "replay"   // uploaded asset played back on a schedule
)

// VideoHistory represents one provider-side stream/recording, paired 1:1 with
// at most one currently-active schedule.
type VideoHistory struct {
	ID              string    `json:"id"`
	ProgramID       string    `json:"program_id"`
	Type            VideoType `json:"type"`
	Status          bool      `json:"status"` // active flag
	RemoteStreamID  *string   `json:"remote_stream_id,omitempty"`
	PlaybackURL     *string   `json:"playback_url,omitempty"`
	MP4URL          *string   `json:"mp4_url,omitempty"`
	DurationMinutes *float64  `json:"duration_minutes,omitempty"` // set exactly once, at finalize
	StreamAt        time.Time `json:"stream_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
