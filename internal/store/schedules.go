package store

import (
	"context"
	"database/sql"
	"time"

	"campustv/pkg/models"
)

// ScheduleStore reads and mutates broadcast slots.
type ScheduleStore struct {
	db *sql.DB
}

const scheduleColumns = `id, program_id, video_history_id, start_time, end_time, status,
	live_stream_started, live_stream_ended, is_replay, thumbnail, created_at, updated_at`

func scanSchedule(row interface {
	Scan(dest ...interface{}) error
}) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(&s.ID, &s.ProgramID, &s.VideoHistoryID, &s.StartTime, &s.EndTime,
		&s.Status, &s.LiveStreamStarted, &s.LiveStreamEnded, &s.IsReplay, &s.Thumbnail,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *ScheduleStore) queryList(ctx context.Context, query string, args ...interface{}) ([]models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// ListPendingWithin returns pending schedules whose start time falls inside the
// lead window ending at deadline.
func (s *ScheduleStore) ListPendingWithin(ctx context.Context, deadline time.Time) ([]models.Schedule, error) {
	return s.queryList(ctx, `
		SELECT `+scheduleColumns+`
		FROM campustv.schedules
		WHERE status = 'pending' AND start_time <= $1
		ORDER BY start_time ASC
	`, deadline)
}

// ListReadyToStart returns not-yet-started ready or late-start schedules whose
// start time falls inside the lead window ending at deadline.
func (s *ScheduleStore) ListReadyToStart(ctx context.Context, deadline time.Time) ([]models.Schedule, error) {
	return s.queryList(ctx, `
		SELECT `+scheduleColumns+`
		FROM campustv.schedules
		WHERE status IN ('ready', 'late_start')
		  AND live_stream_started = false
		  AND start_time <= $1
		ORDER BY start_time ASC
	`, deadline)
}

// ListReadyNotStartedBefore returns ready schedules that have not started by
// cutoff, for the late-start sweep.
func (s *ScheduleStore) ListReadyNotStartedBefore(ctx context.Context, cutoff time.Time) ([]models.Schedule, error) {
	return s.queryList(ctx, `
		SELECT `+scheduleColumns+`
		FROM campustv.schedules
		WHERE status = 'ready'
		  AND live_stream_started = false
		  AND start_time <= $1
		ORDER BY start_time ASC
	`, cutoff)
}

// GetActiveByVideo returns the not-yet-ended schedule attached to a video, if any.
func (s *ScheduleStore) GetActiveByVideo(ctx context.Context, videoID string) (*models.Schedule, error) {
	sched, err := scanSchedule(s.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM campustv.schedules
		WHERE video_history_id = $1 AND live_stream_ended = false
		LIMIT 1
	`, videoID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sched, err
}

// UpdateStatus sets a schedule's status.
func (s *ScheduleStore) UpdateStatus(ctx context.Context, id string, status models.ScheduleStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.schedules SET status = $1, updated_at = NOW() WHERE id = $2
	`, status, id)
	return err
}

// AttachVideo attaches a video history and sets the schedule status.
func (s *ScheduleStore) AttachVideo(ctx context.Context, id, videoID string, status models.ScheduleStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.schedules
		SET video_history_id = $1, status = $2, updated_at = NOW()
		WHERE id = $3
	`, videoID, status, id)
	return err
}

// MarkStarted flags the live stream as started and sets the status.
func (s *ScheduleStore) MarkStarted(ctx context.Context, id string, status models.ScheduleStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.schedules
		SET status = $1, live_stream_started = true, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	return err
}

// MarkEnded flags the live stream as ended with the given terminal status.
func (s *ScheduleStore) MarkEnded(ctx context.Context, id string, status models.ScheduleStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.schedules
		SET status = $1, live_stream_started = true, live_stream_ended = true, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	return err
}

// MarkReplayPlaying flags a replay schedule as playing. Replays never go live;
// they stay ready with both stream flags set until the end time passes.
func (s *ScheduleStore) MarkReplayPlaying(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.schedules
		SET live_stream_started = true, live_stream_ended = true, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}
