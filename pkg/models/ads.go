package models

import (
	"time"
)

// AdSchedule is a reusable ad asset owned by an advertiser account.
type AdSchedule struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"account_id"`
	Title           string    `json:"title"`
	VideoURL        string    `json:"video_url"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

// AdLiveStream is the placement of an ad asset inside one schedule's live
// window. Rows are never deleted; IsPlayed flips true exactly once and the
// table doubles as the metering audit log.
type AdLiveStream struct {
	ID              string    `json:"id"`
	AdScheduleID    string    `json:"ad_schedule_id"`
	ScheduleID      string    `json:"schedule_id"`
	AccountID       string    `json:"account_id"`
	PlayAt          time.Time `json:"play_at"`
	DurationSeconds int       `json:"duration_seconds"`
	IsPlayed        bool      `json:"is_played"`
	CreatedAt       time.Time `json:"created_at"`
}

// Window returns the half-open playback interval [PlayAt, PlayAt+Duration).
func (a AdLiveStream) Window() (time.Time, time.Time) {
	return a.PlayAt, a.PlayAt.Add(time.Duration(a.DurationSeconds) * time.Second)
}

// Overlaps reports whether two placements' playback intervals intersect.
func (a AdLiveStream) Overlaps(b AdLiveStream) bool {
	aStart, aEnd := a.Window()
	bStart, bEnd := b.Window()
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
