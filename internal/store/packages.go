package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"campustv/pkg/models"
)

// PackageStore reads and mutates prepaid minutes packages.
type PackageStore struct {
	db *sql.DB
}

const packageColumns = `id, account_id, total_minutes, minutes_used, remaining_minutes,
	start_date, expires_at, created_at, updated_at`

func scanPackage(row interface {
	Scan(dest ...interface{}) error
}) (*models.AccountPackage, error) {
	var p models.AccountPackage
	err := row.Scan(&p.ID, &p.AccountID, &p.TotalMinutes, &p.MinutesUsed, &p.RemainingMinutes,
		&p.StartDate, &p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActiveByAccount returns the account's current unexpired package, or nil.
// Accounts hold at most one active package; the newest wins if data drifts.
// Expired packages are never returned, so metering cannot debit them.
func (s *PackageStore) GetActiveByAccount(ctx context.Context, accountID string) (*models.AccountPackage, error) {
	p, err := scanPackage(s.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+`
		FROM campustv.account_packages
		WHERE account_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
		LIMIT 1
	`, accountID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ApplyDebit writes back a metering debit. Used and remaining are always
// recomputed together so the remaining = total - used invariant holds.
func (s *PackageStore) ApplyDebit(ctx context.Context, p *models.AccountPackage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campustv.account_packages
		SET minutes_used = $1, remaining_minutes = $2, updated_at = NOW()
		WHERE id = $3
	`, p.MinutesUsed, p.RemainingMinutes, p.ID)
	return err
}

// CreditOrExtend tops up the account's package after a completed order, or
// creates a fresh one when none exists or the current one has expired.
func (s *PackageStore) CreditOrExtend(ctx context.Context, accountID string, minutes float64, days int, now time.Time) error {
	current, err := s.GetActiveByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if current != nil && current.ExpiresAt.After(now) {
		total := current.TotalMinutes + minutes
		_, err := s.db.ExecContext(ctx, `
			UPDATE campustv.account_packages
			SET total_minutes = $1, remaining_minutes = $1 - minutes_used,
			    expires_at = $2, updated_at = NOW()
			WHERE id = $3
		`, total, current.ExpiresAt.AddDate(0, 0, days), current.ID)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campustv.account_packages
			(id, account_id, total_minutes, minutes_used, remaining_minutes, start_date, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $3, $4, $5, NOW(), NOW())
	`, uuid.New().String(), accountID, minutes, now, now.AddDate(0, 0, days))
	return err
}
