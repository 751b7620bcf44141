package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"campustv/pkg/models"
)

func newVideoStore(t *testing.T) (*VideoStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db).Videos, mock
}

func TestMarkRecordedIfActiveWins(t *testing.T) {
	s, mock := newVideoStore(t)

	mock.ExpectExec("SET status = false, type = 'recorded'\\s+WHERE id = (.+) AND status = true").
		WithArgs("vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	won, err := s.MarkRecordedIfActive(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("MarkRecordedIfActive: %v", err)
	}
	if !won {
		t.Error("expected the conditional write to win")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkRecordedIfActiveLosesWhenAlreadyFinalized(t *testing.T) {
	s, mock := newVideoStore(t)

	mock.ExpectExec("SET status = false, type = 'recorded'").
		WithArgs("vid-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	won, err := s.MarkRecordedIfActive(context.Background(), "vid-1")
	if err != nil {
		t.Fatalf("MarkRecordedIfActive: %v", err)
	}
	if won {
		t.Error("write against a finalized row must report a loss")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRestoreActiveReactivatesClaimedVideo(t *testing.T) {
	s, mock := newVideoStore(t)

	mock.ExpectExec("SET status = true, type = (.+)\\s+WHERE id =").
		WithArgs(models.VideoLive, "vid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.RestoreActive(context.Background(), "vid-1", models.VideoLive); err != nil {
		t.Fatalf("RestoreActive: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetActiveByRemoteIDMissingRowIsNil(t *testing.T) {
	s, mock := newVideoStore(t)

	mock.ExpectQuery("WHERE remote_stream_id = (.+) AND status = true").
		WithArgs("uid-gone").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "program_id", "type", "status", "remote_stream_id", "playback_url",
			"mp4_url", "duration_minutes", "stream_at", "created_at", "updated_at",
		}))

	v, err := s.GetActiveByRemoteID(context.Background(), "uid-gone")
	if err != nil {
		t.Fatalf("GetActiveByRemoteID: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil for a missing row, got %+v", v)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestExpireStaleUploadedReturnsSweptCount(t *testing.T) {
	s, mock := newVideoStore(t)
	now := time.Now()

	mock.ExpectExec("stream_at \\+ \\(duration_minutes \\* interval '1 minute'\\) <=").
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	swept, err := s.ExpireStaleUploaded(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireStaleUploaded: %v", err)
	}
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
