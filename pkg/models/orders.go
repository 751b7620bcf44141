package models

import (
	"time"
)

// OrderStatus is the payment state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderFailed    OrderStatus = "failed"
)

// Order represents a minutes-package purchase awaiting payment confirmation.
// OrderCode is the payment provider's payment identifier, used to query the
// gateway's own status endpoint during reconciliation.
type Order struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	OrderCode      string      `json:"order_code"`
	PackageMinutes float64     `json:"package_minutes"`
	PackageDays    int         `json:"package_days"`
	AmountCents    int64       `json:"amount_cents"`
	Currency       string      `json:"currency"`
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}
