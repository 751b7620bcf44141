package reconciler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"campustv/internal/cloudflare"
	"campustv/internal/metering"
	"campustv/internal/store"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

var videoCols = []string{
	"id", "program_id", "type", "status", "remote_stream_id", "playback_url",
	"mp4_url", "duration_minutes", "stream_at", "created_at", "updated_at",
}

func newStreamServer(t *testing.T, handler http.HandlerFunc) *cloudflare.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return cloudflare.NewClient(cloudflare.Config{
		AccountID: "acct",
		APIToken:  "token",
		BaseURL:   srv.URL,
	})
}

func connectedInputHandler(uid string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"result":{"uid":"%s","status":{"current":{"state":"connected"}}}}`, uid)
	}
}

func TestConfirmStartsFlagsLateStartAfterGrace(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	stream := newStreamServer(t, connectedInputHandler("uid-1"))
	notifier := &fakeNotifier{}
	st := store.New(db)
	m := NewMonitor(st, stream, nil, notifier, logging.NewLogger(),
		5*time.Second, 5*time.Minute, 2*time.Minute)

	now := time.Date(2026, time.March, 2, 10, 6, 0, 0, time.UTC)
	start := now.Add(-6 * time.Minute) // past the 5-minute grace
	m.now = fixedNow(now)

	playback := "https://play.example/uid-1"
	mock.ExpectQuery("WHERE status = true AND type = 'ready'").
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow("vid-1", "prog-1", "ready", true, "uid-1", playback, nil, nil, start, now, now))

	mock.ExpectExec("UPDATE campustv.video_histories SET type = 'live'").
		WithArgs("vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("WHERE video_history_id = (.+) AND live_stream_ended = false").
		WithArgs("vid-1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-1", "prog-1", "vid-1", start, start.Add(time.Hour), "ready",
				false, false, false, nil, now, now))

	mock.ExpectExec("SET status = (.+), live_stream_started = true,").
		WithArgs(models.ScheduleLateStart, "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m.ConfirmStarts(context.Background())

	events := notifier.broadcastEvents()
	if len(events) != 1 || events[0] != "stream_started" {
		t.Fatalf("broadcasts = %v, want one stream_started", events)
	}
	if got := notifier.broadcasts[0].Data["status"]; got != "late_start" {
		t.Errorf("broadcast status = %v, want late_start", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmStartsWithinGraceGoesLive(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	stream := newStreamServer(t, connectedInputHandler("uid-1"))
	notifier := &fakeNotifier{}
	m := NewMonitor(store.New(db), stream, nil, notifier, logging.NewLogger(),
		5*time.Second, 5*time.Minute, 2*time.Minute)

	now := time.Date(2026, time.March, 2, 10, 1, 0, 0, time.UTC)
	start := now.Add(-time.Minute)
	m.now = fixedNow(now)

	mock.ExpectQuery("WHERE status = true AND type = 'ready'").
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow("vid-1", "prog-1", "ready", true, "uid-1", nil, nil, nil, start, now, now))
	mock.ExpectExec("UPDATE campustv.video_histories SET type = 'live'").
		WithArgs("vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("WHERE video_history_id = (.+) AND live_stream_ended = false").
		WithArgs("vid-1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-1", "prog-1", "vid-1", start, start.Add(time.Hour), "ready",
				false, false, false, nil, now, now))
	mock.ExpectExec("SET status = (.+), live_stream_started = true,").
		WithArgs(models.ScheduleLive, "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m.ConfirmStarts(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestConfirmStartsSkipsDisconnectedInput(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	stream := newStreamServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"uid":"uid-1","status":{"current":{"state":"disconnected"}}}}`)
	})
	m := NewMonitor(store.New(db), stream, nil, &fakeNotifier{}, logging.NewLogger(),
		5*time.Second, 5*time.Minute, 2*time.Minute)
	now := time.Now()
	m.now = fixedNow(now)

	mock.ExpectQuery("WHERE status = true AND type = 'ready'").
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow("vid-1", "prog-1", "ready", true, "uid-1", nil, nil, nil, now, now, now))

	m.ConfirmStarts(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLateStartSweepFlagsOverdueReady(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	m := NewMonitor(store.New(db), nil, nil, &fakeNotifier{}, logging.NewLogger(),
		5*time.Second, 5*time.Minute, 2*time.Minute)
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	m.now = fixedNow(now)

	start := now.Add(-3 * time.Minute)
	mock.ExpectQuery("WHERE status = 'ready'\\s+AND live_stream_started = false").
		WithArgs(now.Add(-2 * time.Minute)).
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-1", "prog-1", nil, start, start.Add(time.Hour), "ready",
				false, false, false, nil, now, now))

	mock.ExpectExec("UPDATE campustv.schedules SET status").
		WithArgs(models.ScheduleLateStart, "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m.LateStartSweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWatchLiveForceEndsExhaustedPackage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	// One server backs both the state query and the finalizer's polling.
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/acct/stream/live_inputs/uid-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{}`)
			return
		}
		fmt.Fprint(w, `{"result":{"uid":"uid-1","status":{"current":{"state":"connected"}}}}`)
	})
	mux.HandleFunc("/accounts/acct/stream/live_inputs/uid-1/videos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":[{"uid":"rec-1","status":{"state":"ready"},"duration":90,"preview":"","playback":{"hls":"https://play.example/rec-1"}}]}`)
	})
	mux.HandleFunc("/accounts/acct/stream/rec-1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"uid":"rec-1","status":{"state":"ready"},"duration":90,"playback":{"hls":"https://play.example/rec-1"}}}`)
	})
	mux.HandleFunc("/accounts/acct/stream/rec-1/downloads", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"default":{"status":"ready","url":"https://dl.example/rec-1.mp4"}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	stream := cloudflare.NewClient(cloudflare.Config{AccountID: "acct", APIToken: "t", BaseURL: srv.URL})

	st := store.New(db)
	logger := logging.NewLogger()
	notifier := &fakeNotifier{}
	fin := NewFinalizer(st, stream, metering.NewMeter(st.Packages, logger), notifier, logger)
	fin.recordingDelay = time.Millisecond
	fin.readyDelay = time.Millisecond
	fin.downloadDelay = time.Millisecond

	m := NewMonitor(st, stream, fin, notifier, logger, 5*time.Second, 5*time.Minute, 2*time.Minute)
	now := time.Date(2026, time.March, 2, 10, 30, 0, 0, time.UTC)
	m.now = fixedNow(now)
	fin.now = fixedNow(now)

	start := now.Add(-30 * time.Minute)
	end := now.Add(30 * time.Minute) // window not elapsed; exhaustion is the trigger

	mock.ExpectQuery("WHERE status = true AND type = 'live'").
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow("vid-1", "prog-1", "live", true, "uid-1", nil, nil, nil, start, now, now))

	mock.ExpectQuery("WHERE video_history_id = (.+) AND live_stream_ended = false").
		WithArgs("vid-1").
		WillReturnRows(sqlmock.NewRows(scheduleCols).
			AddRow("sched-1", "prog-1", "vid-1", start, end, "live",
				true, false, false, nil, now, now))

	programRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "channel_id", "account_id", "title", "remote_stream_id", "created_at", "updated_at",
		}).AddRow("prog-1", "chan-1", "owner-1", "Morning Show", "uid-1", now, now)
	}
	packageRows := func(used, remaining float64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{
			"id", "account_id", "total_minutes", "minutes_used", "remaining_minutes",
			"start_date", "expires_at", "created_at", "updated_at",
		}).AddRow("pkg-1", "owner-1", 60.0, used, remaining, now.Add(-time.Hour), now.Add(time.Hour), now, now)
	}

	// Exhaustion check: remaining already zero.
	mock.ExpectQuery("SELECT id, channel_id, account_id, title").
		WithArgs("prog-1").WillReturnRows(programRows())
	mock.ExpectQuery("SELECT id, account_id, total_minutes").
		WithArgs("owner-1").WillReturnRows(packageRows(60, 0))

	// Finalizer path.
	mock.ExpectQuery("WHERE remote_stream_id = (.+) AND status = true").
		WithArgs("uid-1").
		WillReturnRows(sqlmock.NewRows(videoCols).
			AddRow("vid-1", "prog-1", "live", true, "uid-1", nil, nil, nil, start, now, now))
	mock.ExpectExec("SET status = false, type = 'recorded'").
		WithArgs("vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("SET duration_minutes").
		WithArgs(1.5, "https://dl.example/rec-1.mp4", "https://play.example/rec-1", "vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Metering debit of 1.5 minutes.
	mock.ExpectQuery("SELECT id, channel_id, account_id, title").
		WithArgs("prog-1").WillReturnRows(programRows())
	mock.ExpectQuery("SELECT id, account_id, total_minutes").
		WithArgs("owner-1").WillReturnRows(packageRows(60, 0))
	mock.ExpectExec("UPDATE campustv.account_packages").
		WithArgs(61.5, -1.5, "pkg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Exhaustion force-end terminates cleanly, not EndedEarly.
	mock.ExpectExec("SET status = (.+), live_stream_started = true, live_stream_ended = true").
		WithArgs(models.ScheduleEnded, "sched-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m.WatchLive(context.Background())

	events := notifier.broadcastEvents()
	if len(events) != 1 || events[0] != "stream_ended" {
		t.Fatalf("broadcasts = %v, want one stream_ended", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
