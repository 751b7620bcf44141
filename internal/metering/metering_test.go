package metering

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"campustv/internal/store"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

func TestDebitKeepsRemainingConsistent(t *testing.T) {
	pkg := &models.AccountPackage{TotalMinutes: 120, MinutesUsed: 30, RemainingMinutes: 90}

	Debit(pkg, 12.5)

	if pkg.MinutesUsed != 42.5 {
		t.Errorf("used = %v, want 42.5", pkg.MinutesUsed)
	}
	if pkg.RemainingMinutes != pkg.TotalMinutes-pkg.MinutesUsed {
		t.Errorf("remaining = %v, want total-used = %v", pkg.RemainingMinutes, pkg.TotalMinutes-pkg.MinutesUsed)
	}
}

func TestDebitNeverClamps(t *testing.T) {
	pkg := &models.AccountPackage{TotalMinutes: 60, MinutesUsed: 59.5, RemainingMinutes: 0.5}

	Debit(pkg, 1.0)

	if pkg.MinutesUsed != 60.5 {
		t.Errorf("used = %v, want 60.5", pkg.MinutesUsed)
	}
	if pkg.RemainingMinutes != -0.5 {
		t.Errorf("remaining = %v, want -0.5", pkg.RemainingMinutes)
	}
	if !Exhausted(pkg, time.Now().Add(-time.Hour)) {
		t.Error("negative remaining should count as exhausted")
	}
}

func TestExhausted(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	if !Exhausted(nil, now) {
		t.Error("nil package should be exhausted")
	}

	active := &models.AccountPackage{RemainingMinutes: 10, ExpiresAt: now.Add(24 * time.Hour)}
	if Exhausted(active, now) {
		t.Error("package with minutes and future expiry should not be exhausted")
	}

	expired := &models.AccountPackage{RemainingMinutes: 10, ExpiresAt: now.Add(-time.Minute)}
	if !Exhausted(expired, now) {
		t.Error("expired package should be exhausted")
	}

	drained := &models.AccountPackage{RemainingMinutes: 0, ExpiresAt: now.Add(24 * time.Hour)}
	if !Exhausted(drained, now) {
		t.Error("zero remaining should be exhausted")
	}
}

func TestDebitAccountPersistsBothColumns(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, account_id, total_minutes").
		WithArgs("acct-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "total_minutes", "minutes_used", "remaining_minutes",
			"start_date", "expires_at", "created_at", "updated_at",
		}).AddRow("pkg-1", "acct-1", 60.0, 59.5, 0.5, now, now.Add(time.Hour), now, now))

	mock.ExpectExec("UPDATE campustv.account_packages").
		WithArgs(60.5, -0.5, "pkg-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	m := NewMeter(store.New(db).Packages, logging.NewLogger())
	if err := m.DebitAccount(context.Background(), "acct-1", 1.0); err != nil {
		t.Fatalf("DebitAccount returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitAccountSkipsMissingPackage(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT id, account_id, total_minutes").
		WithArgs("acct-none").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "total_minutes", "minutes_used", "remaining_minutes",
			"start_date", "expires_at", "created_at", "updated_at",
		}))

	m := NewMeter(store.New(db).Packages, logging.NewLogger())
	if err := m.DebitAccount(context.Background(), "acct-none", 1.0); err != nil {
		t.Fatalf("DebitAccount should skip a missing package, got error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
