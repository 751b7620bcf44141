package store

import (
	"context"
	"database/sql"
	"time"

	"campustv/pkg/models"
)

// DueAd is an unplayed placement joined to its ad asset and schedule.
// Ad or Schedule may be nil when the referenced row is missing.
type DueAd struct {
	Placement models.AdLiveStream
	Ad        *models.AdSchedule
	Schedule  *models.Schedule
}

// AdStore reads and mutates ad placements.
type AdStore struct {
	db *sql.DB
}

// InsertBatch stores a batch of accepted placements.
func (s *AdStore) InsertBatch(ctx context.Context, ads []models.AdLiveStream) error {
	for _, a := range ads {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO campustv.ad_live_streams
				(id, ad_schedule_id, schedule_id, account_id, play_at, duration_seconds, is_played, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, false, NOW())
		`, a.ID, a.AdScheduleID, a.ScheduleID, a.AccountID, a.PlayAt, a.DurationSeconds)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListUnplayedBySchedule returns the unplayed placements of one schedule,
// used by the insertion-time overlap check.
func (s *AdStore) ListUnplayedBySchedule(ctx context.Context, scheduleID string) ([]models.AdLiveStream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ad_schedule_id, schedule_id, account_id, play_at, duration_seconds, is_played, created_at
		FROM campustv.ad_live_streams
		WHERE schedule_id = $1 AND is_played = false
	`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ads []models.AdLiveStream
	for rows.Next() {
		var a models.AdLiveStream
		if err := rows.Scan(&a.ID, &a.AdScheduleID, &a.ScheduleID, &a.AccountID,
			&a.PlayAt, &a.DurationSeconds, &a.IsPlayed, &a.CreatedAt); err != nil {
			return nil, err
		}
		ads = append(ads, a)
	}
	return ads, rows.Err()
}

// ListDueUnplayed returns unplayed placements due before deadline, each joined
// to its ad asset and schedule. Left joins keep placements with a missing
// asset visible so dispatch can fall back to a default duration.
func (s *AdStore) ListDueUnplayed(ctx context.Context, deadline time.Time) ([]DueAd, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT als.id, als.ad_schedule_id, als.schedule_id, als.account_id,
		       als.play_at, als.duration_seconds, als.is_played, als.created_at,
		       ads.id, ads.account_id, ads.title, ads.video_url, ads.duration_seconds,
		       sch.id, sch.program_id, sch.status
		FROM campustv.ad_live_streams als
		LEFT JOIN campustv.ad_schedules ads ON ads.id = als.ad_schedule_id
		LEFT JOIN campustv.schedules sch ON sch.id = als.schedule_id
		WHERE als.is_played = false AND als.play_at <= $1
		ORDER BY als.play_at ASC
	`, deadline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []DueAd
	for rows.Next() {
		var d DueAd
		var adID, adAccount, adTitle, adURL sql.NullString
		var adDuration sql.NullInt64
		var schID, schProgram, schStatus sql.NullString
		if err := rows.Scan(&d.Placement.ID, &d.Placement.AdScheduleID, &d.Placement.ScheduleID,
			&d.Placement.AccountID, &d.Placement.PlayAt, &d.Placement.DurationSeconds,
			&d.Placement.IsPlayed, &d.Placement.CreatedAt,
			&adID, &adAccount, &adTitle, &adURL, &adDuration,
			&schID, &schProgram, &schStatus); err != nil {
			return nil, err
		}
		if adID.Valid {
			d.Ad = &models.AdSchedule{
				ID:              adID.String,
				AccountID:       adAccount.String,
				Title:           adTitle.String,
				VideoURL:        adURL.String,
				DurationSeconds: int(adDuration.Int64),
			}
		}
		if schID.Valid {
			d.Schedule = &models.Schedule{
				ID:        schID.String,
				ProgramID: schProgram.String,
				Status:    models.ScheduleStatus(schStatus.String),
			}
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// ListExpiredUnplayed returns unplayed placements whose play time has passed.
func (s *AdStore) ListExpiredUnplayed(ctx context.Context, now time.Time) ([]models.AdLiveStream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ad_schedule_id, schedule_id, account_id, play_at, duration_seconds, is_played, created_at
		FROM campustv.ad_live_streams
		WHERE is_played = false AND play_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ads []models.AdLiveStream
	for rows.Next() {
		var a models.AdLiveStream
		if err := rows.Scan(&a.ID, &a.AdScheduleID, &a.ScheduleID, &a.AccountID,
			&a.PlayAt, &a.DurationSeconds, &a.IsPlayed, &a.CreatedAt); err != nil {
			return nil, err
		}
		ads = append(ads, a)
	}
	return ads, rows.Err()
}

// MarkPlayedDirect flips is_played with a bare UPDATE, bypassing any loaded
// row state so the sweep cannot conflict with the dispatch half of the tick.
func (s *AdStore) MarkPlayedDirect(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.ad_live_streams SET is_played = true WHERE id = $1
	`, id)
	return err
}
