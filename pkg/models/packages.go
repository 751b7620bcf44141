package models

import (
	"time"
)

// AccountPackage is a prepaid minutes allotment tied to one account.
// Remaining is kept denormalized and always recomputed together with Used;
// it is allowed to go negative (soft overage).
type AccountPackage struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	TotalMinutes     float64   `json:"total_minutes"`
	MinutesUsed      float64   `json:"minutes_used"`
	RemainingMinutes float64   `json:"remaining_minutes"`
	StartDate        time.Time `json:"start_date"`
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
