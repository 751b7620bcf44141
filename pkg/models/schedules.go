package models

import (
	"time"
)

// ScheduleStatus is the lifecycle state of a broadcast slot.
type ScheduleStatus string

const (
	SchedulePending    ScheduleStatus = "pending"
	ScheduleReady      ScheduleStatus = "ready"
	ScheduleLive       ScheduleStatus = "live"
	ScheduleLateStart  ScheduleStatus = "late_start"
	ScheduleEnded      ScheduleStatus = "ended"
	ScheduleEndedEarly ScheduleStatus = "ended_early"
)

// Terminal reports whether no further transitions are possible.
func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleEnded || s == ScheduleEndedEarly
}

// Schedule represents one planned or in-progress broadcast slot for a program.
type Schedule struct {
	ID                string         `json:"id"`
	ProgramID         string         `json:"program_id"`
	VideoHistoryID    *string        `json:"video_history_id,omitempty"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           time.Time      `json:"end_time"`
	Status            ScheduleStatus `json:"status"`
	LiveStreamStarted bool           `json:"live_stream_started"`
	LiveStreamEnded   bool           `json:"live_stream_ended"`
	IsReplay          bool           `json:"is_replay"`
	Thumbnail         *string        `json:"thumbnail,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Program represents a show on a school channel. The cached remote stream id
// lets consecutive schedules of the same program reuse a provisioned live input.
type Program struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	AccountID      string    `json:"account_id"`
	Title          string    `json:"title"`
	RemoteStreamID *string   `json:"remote_stream_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
