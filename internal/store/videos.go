package store

import (
	"context"
	"database/sql"
	"time"

	"campustv/pkg/models"
)

// VideoStore reads and mutates provider-side stream/recording records.
type VideoStore struct {
	db *sql.DB
}

const videoColumns = `id, program_id, type, status, remote_stream_id, playback_url,
	mp4_url, duration_minutes, stream_at, created_at, updated_at`

func scanVideo(row interface {
	Scan(dest ...interface{}) error
}) (*models.VideoHistory, error) {
	var v models.VideoHistory
	err := row.Scan(&v.ID, &v.ProgramID, &v.Type, &v.Status, &v.RemoteStreamID,
		&v.PlaybackURL, &v.MP4URL, &v.DurationMinutes, &v.StreamAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *VideoStore) queryList(ctx context.Context, query string, args ...interface{}) ([]models.VideoHistory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []models.VideoHistory
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, *v)
	}
	return videos, rows.Err()
}

// Insert stores a newly provisioned video history.
func (s *VideoStore) Insert(ctx context.Context, v *models.VideoHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campustv.video_histories
			(id, program_id, type, status, remote_stream_id, playback_url, stream_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, v.ID, v.ProgramID, v.Type, v.Status, v.RemoteStreamID, v.PlaybackURL, v.StreamAt)
	return err
}

// ListUnconfirmed returns active ready-typed videos with a remote stream id,
// awaiting ingest confirmation.
func (s *VideoStore) ListUnconfirmed(ctx context.Context) ([]models.VideoHistory, error) {
	return s.queryList(ctx, `
		SELECT `+videoColumns+`
		FROM campustv.video_histories
		WHERE status = true AND type = 'ready' AND remote_stream_id IS NOT NULL
	`)
}

// ListActiveLive returns active live-typed videos.
func (s *VideoStore) ListActiveLive(ctx context.Context) ([]models.VideoHistory, error) {
	return s.queryList(ctx, `
		SELECT `+videoColumns+`
		FROM campustv.video_histories
		WHERE status = true AND type = 'live'
	`)
}

// GetReusableForProgram returns an active ready/live video for the program, if any.
func (s *VideoStore) GetReusableForProgram(ctx context.Context, programID string) (*models.VideoHistory, error) {
	v, err := scanVideo(s.db.QueryRowContext(ctx, `
		SELECT `+videoColumns+`
		FROM campustv.video_histories
		WHERE program_id = $1 AND status = true AND type IN ('ready', 'live')
		LIMIT 1
	`, programID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// GetActiveByRemoteID returns the active video for a remote stream id, if any.
func (s *VideoStore) GetActiveByRemoteID(ctx context.Context, remoteID string) (*models.VideoHistory, error) {
	v, err := scanVideo(s.db.QueryRowContext(ctx, `
		SELECT `+videoColumns+`
		FROM campustv.video_histories
		WHERE remote_stream_id = $1 AND status = true
		LIMIT 1
	`, remoteID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// FindReplayForProgramWindow resolves the replay asset for a program whose
// stream time falls inside the schedule window.
func (s *VideoStore) FindReplayForProgramWindow(ctx context.Context, programID string, start, end time.Time) (*models.VideoHistory, error) {
	v, err := scanVideo(s.db.QueryRowContext(ctx, `
		SELECT `+videoColumns+`
		FROM campustv.video_histories
		WHERE program_id = $1 AND type = 'replay' AND stream_at >= $2 AND stream_at < $3
		ORDER BY stream_at ASC
		LIMIT 1
	`, programID, start, end))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return v, err
}

// SetLive promotes a ready video to live.
func (s *VideoStore) SetLive(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories SET type = 'live', updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

// Touch refreshes a reusable video's timestamp and type ahead of a new stream.
func (s *VideoStore) Touch(ctx context.Context, id string, videoType models.VideoType) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories SET type = $1, updated_at = NOW() WHERE id = $2
	`, videoType, id)
	return err
}

// MarkRecordedIfActive atomically deactivates a video and flips it to
// recorded. It returns false when the video was already finalized by the
// competing path, making the webhook/monitor race safe even across processes.
func (s *VideoStore) MarkRecordedIfActive(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories
		SET status = false, type = 'recorded', updated_at = NOW()
		WHERE id = $1 AND status = true
	`, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RestoreActive reverses a finalization claim that could not complete,
// putting the video back where the monitor and webhook paths can find it.
func (s *VideoStore) RestoreActive(ctx context.Context, id string, videoType models.VideoType) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories
		SET status = true, type = $1, updated_at = NOW()
		WHERE id = $2
	`, videoType, id)
	return err
}

// FinalizeRecording persists the provider-reported duration and URLs.
// Duration is written exactly once, by whichever finalization path won.
func (s *VideoStore) FinalizeRecording(ctx context.Context, id string, durationMinutes float64, mp4URL, playbackURL string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories
		SET duration_minutes = $1, mp4_url = $2, playback_url = $3, updated_at = NOW()
		WHERE id = $4
	`, durationMinutes, mp4URL, playbackURL, id)
	return err
}

// ExpireStaleUploaded deactivates non-live videos whose playback window has
// elapsed. Returns the number of rows swept.
func (s *VideoStore) ExpireStaleUploaded(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campustv.video_histories
		SET status = false, updated_at = NOW()
		WHERE status = true
		  AND type != 'live'
		  AND duration_minutes IS NOT NULL
		  AND stream_at + (duration_minutes * interval '1 minute') <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
