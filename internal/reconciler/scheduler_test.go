package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"campustv/internal/store"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

var scheduleCols = []string{
	"id", "program_id", "video_history_id", "start_time", "end_time", "status",
	"live_stream_started", "live_stream_ended", "is_replay", "thumbnail",
	"created_at", "updated_at",
}

func newTestScheduler(t *testing.T) (*Scheduler, sqlmock.Sqlmock, *fakeNotifier) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	notifier := &fakeNotifier{}
	s := NewScheduler(store.New(db), nil, notifier, logging.NewLogger(), time.Second, 5*time.Minute)
	return s, mock, notifier
}

func TestTickPromotesPendingAndNotifiesFollowers(t *testing.T) {
	s, mock, notifier := newTestScheduler(t)
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	start := now.Add(3 * time.Minute)
	mock.ExpectQuery("SELECT id, program_id, video_history_id.+FROM campustv.schedules\\s+WHERE status = 'pending'").
		WithArgs(now.Add(5 * time.Minute)).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-1", "prog-1", nil, start, start.Add(time.Hour), "pending",
				false, false, false, nil, now, now))

	mock.ExpectExec("UPDATE campustv.schedules SET status").
		WithArgs(models.ScheduleReady, "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT id, channel_id, account_id, title").
		WithArgs("prog-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "channel_id", "account_id", "title", "remote_stream_id", "created_at", "updated_at",
		}).AddRow("prog-1", "chan-1", "owner-1", "Morning Show", nil, now, now))

	mock.ExpectQuery("SELECT account_id FROM campustv.program_followers").
		WithArgs("prog-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id"}).
			AddRow("follower-1").AddRow("follower-2"))

	// No ready schedules to start, nothing stale to sweep.
	mock.ExpectQuery("WHERE status IN \\('ready', 'late_start'\\)").
		WithArgs(now.Add(5 * time.Minute)).
		WillReturnRows(sqlmock.NewRows(scheduleCols))
	mock.ExpectExec("UPDATE campustv.video_histories").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.Tick(context.Background())

	if len(notifier.notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.notifications))
	}
	for _, n := range notifier.notifications {
		if n.Message != "Morning Show is starting in 3 minutes" {
			t.Errorf("unexpected message %q", n.Message)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTickLeavesStalePendingUntouched(t *testing.T) {
	s, mock, notifier := newTestScheduler(t)
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	// Started two minutes ago while still pending: must not be auto-advanced.
	start := now.Add(-2 * time.Minute)
	mock.ExpectQuery("WHERE status = 'pending'").
		WithArgs(now.Add(5 * time.Minute)).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-stale", "prog-1", nil, start, start.Add(time.Hour), "pending",
				false, false, false, nil, now, now))

	mock.ExpectQuery("WHERE status IN \\('ready', 'late_start'\\)").
		WithArgs(now.Add(5 * time.Minute)).
		WillReturnRows(sqlmock.NewRows(scheduleCols))
	mock.ExpectExec("UPDATE campustv.video_histories").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.Tick(context.Background())

	if len(notifier.notifications) != 0 {
		t.Errorf("stale pending must not notify, got %d notifications", len(notifier.notifications))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStartReplayElapsedWindowEndsSchedule(t *testing.T) {
	s, mock, notifier := newTestScheduler(t)
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	start := now.Add(-2 * time.Hour)
	end := now.Add(-time.Hour)
	sched := models.Schedule{
		ID: "sched-replay", ProgramID: "prog-1",
		StartTime: start, EndTime: end,
		Status: models.ScheduleReady, IsReplay: true,
	}

	mock.ExpectQuery("WHERE program_id = (.+) AND type = 'replay'").
		WithArgs("prog-1", start, end).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "program_id", "type", "status", "remote_stream_id", "playback_url",
			"mp4_url", "duration_minutes", "stream_at", "created_at", "updated_at",
		}).AddRow("vid-replay", "prog-1", "replay", true, nil, nil, nil, 45.0, start, now, now))

	mock.ExpectExec("SET video_history_id").
		WithArgs("vid-replay", models.ScheduleEnded, "sched-replay").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET live_stream_started = true, live_stream_ended = true").
		WithArgs("sched-replay").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.startReplay(context.Background(), sched, now)

	events := notifier.broadcastEvents()
	if len(events) != 1 || events[0] != "stream_ended" {
		t.Errorf("broadcasts = %v, want one stream_ended", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStartReplayInsideWindowKeepsStatusReady(t *testing.T) {
	s, mock, _ := newTestScheduler(t)
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	s.now = fixedNow(now)

	sched := models.Schedule{
		ID: "sched-replay", ProgramID: "prog-1",
		StartTime: now.Add(-time.Minute), EndTime: now.Add(time.Hour),
		Status: models.ScheduleReady, IsReplay: true,
	}

	// Only the stream flags flip; status stays ready while the replay plays.
	mock.ExpectExec("SET live_stream_started = true, live_stream_ended = true").
		WithArgs("sched-replay").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.startReplay(context.Background(), sched, now)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
