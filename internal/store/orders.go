package store

import (
	"context"
	"database/sql"
	"time"

	"campustv/pkg/models"
)

// OrderStore reads and mutates minutes-package purchase orders.
type OrderStore struct {
	db *sql.DB
}

const orderColumns = `id, account_id, order_code, package_minutes, package_days,
	amount_cents, currency, status, created_at, updated_at`

func scanOrder(row interface {
	Scan(dest ...interface{}) error
}) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.AccountID, &o.OrderCode, &o.PackageMinutes, &o.PackageDays,
		&o.AmountCents, &o.Currency, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ListExpiredPending returns pending orders created before cutoff.
func (s *OrderStore) ListExpiredPending(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM campustv.orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// GetByOrderCode returns the order for a provider payment id, if any.
func (s *OrderStore) GetByOrderCode(ctx context.Context, orderCode string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM campustv.orders
		WHERE order_code = $1
		LIMIT 1
	`, orderCode))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return o, err
}

// SetStatusIfPending moves a pending order to a terminal status. Returns false
// when another path already settled it.
func (s *OrderStore) SetStatusIfPending(ctx context.Context, id string, status models.OrderStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campustv.orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, status, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
