package metering

import (
	"context"
	"time"

	"campustv/internal/store"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// Debit records minutes consumption against a package. Used and remaining are
// recomputed together; remaining is never clamped and may go negative, which
// authorization treats as exhausted (soft overage, never billed further).
func Debit(p *models.AccountPackage, minutes float64) {
	p.MinutesUsed += minutes
	p.RemainingMinutes = p.TotalMinutes - p.MinutesUsed
}

// Exhausted reports whether a package can no longer cover streaming time.
func Exhausted(p *models.AccountPackage, now time.Time) bool {
	if p == nil {
		return true
	}
	return p.RemainingMinutes <= 0 || p.ExpiresAt.Before(now)
}

// Meter debits the active package of an account, shared by the stream
// finalizer and the ad expiry sweep.
type Meter struct {
	packages *store.PackageStore
	logger   logging.Logger
}

// NewMeter creates a metering component over the package store.
func NewMeter(packages *store.PackageStore, logger logging.Logger) *Meter {
	return &Meter{packages: packages, logger: logger}
}

// DebitAccount loads the account's active package, applies the debit and
// persists it. A missing package is skipped with a warning, not an error.
func (m *Meter) DebitAccount(ctx context.Context, accountID string, minutes float64) error {
	pkg, err := m.packages.GetActiveByAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if pkg == nil {
		m.logger.WithField("account_id", accountID).Warn("No active package to debit")
		return nil
	}

	Debit(pkg, minutes)
	if err := m.packages.ApplyDebit(ctx, pkg); err != nil {
		return err
	}

	m.logger.WithFields(logging.Fields{
		"account_id": accountID,
		"package_id": pkg.ID,
		"minutes":    minutes,
		"remaining":  pkg.RemainingMinutes,
	}).Info("Debited minutes package")
	return nil
}

// DebitPackage applies and persists a debit against an already-loaded
// package, for callers that batch reads across one sweep.
func (m *Meter) DebitPackage(ctx context.Context, pkg *models.AccountPackage, minutes float64) error {
	Debit(pkg, minutes)
	return m.packages.ApplyDebit(ctx, pkg)
}
