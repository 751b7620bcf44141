package store

import (
	"database/sql"
)

// Store bundles the per-entity repositories over one connection pool.
// Each reconciler tick reads and writes through these methods; there are no
// long-lived transactions spanning ticks.
type Store struct {
	Schedules *ScheduleStore
	Videos    *VideoStore
	Packages  *PackageStore
	Ads       *AdStore
	Orders    *OrderStore
	Programs  *ProgramStore
}

// New creates a Store over the given database handle.
func New(db *sql.DB) *Store {
	return &Store{
		Schedules: &ScheduleStore{db: db},
		Videos:    &VideoStore{db: db},
		Packages:  &PackageStore{db: db},
		Ads:       &AdStore{db: db},
		Orders:    &OrderStore{db: db},
		Programs:  &ProgramStore{db: db},
	}
}
