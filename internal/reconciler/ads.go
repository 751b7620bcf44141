package reconciler

import (
	"context"
	"time"

	"campustv/internal/metering"
	"campustv/internal/notify"
	"campustv/internal/store"
	"campustv/internal/ws"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// AdLoop dispatches due ad breaks to live viewers and sweeps expired
// placements, metering each swept slot against the advertiser's package.
type AdLoop struct {
	store           *store.Store
	meter           *metering.Meter
	notifier        notify.Notifier
	logger          logging.Logger
	interval        time.Duration
	horizon         time.Duration // dispatch lookahead
	defaultDuration time.Duration // used when the ad asset row is missing
	metrics         *Metrics
	now             func() time.Time
}

// NewAdLoop creates the ad playback loop.
func NewAdLoop(st *store.Store, meter *metering.Meter, notifier notify.Notifier, logger logging.Logger, interval time.Duration) *AdLoop {
	return &AdLoop{
		store:           st,
		meter:           meter,
		notifier:        notifier,
		logger:          logger,
		interval:        interval,
		horizon:         2 * time.Minute,
		defaultDuration: 10 * time.Second,
		now:             time.Now,
	}
}

// WithMetrics attaches the engine counters.
func (a *AdLoop) WithMetrics(m *Metrics) *AdLoop {
	a.metrics = m
	return a
}

// Start runs the loop until the context is cancelled.
func (a *AdLoop) Start(ctx context.Context) {
	a.logger.WithField("interval", a.interval.String()).Info("Starting ad playback loop")
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Stopping ad playback loop")
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick runs one dispatch-then-sweep pass.
func (a *AdLoop) Tick(ctx context.Context) {
	a.metrics.tick("ads")
	a.DispatchDue(ctx)
	a.SweepExpired(ctx)
}

// DispatchDue publishes an "ad" event to the schedule's viewer group for every
// unplayed placement due inside the lookahead horizon. Dispatch failures are
// per-item; the placement stays unplayed until the expiry sweep meters it.
func (a *AdLoop) DispatchDue(ctx context.Context) {
	due, err := a.store.Ads.ListDueUnplayed(ctx, a.now().Add(a.horizon))
	if err != nil {
		a.logger.WithError(err).Error("Failed to list due ads")
		return
	}

	for _, d := range due {
		log := a.logger.WithField("ad_live_stream_id", d.Placement.ID)
		if d.Schedule == nil {
			log.Warn("Ad placement references a missing schedule, skipping dispatch")
			continue
		}

		duration := a.defaultDuration
		videoURL, title := "", ""
		if d.Ad != nil {
			duration = time.Duration(d.Ad.DurationSeconds) * time.Second
			videoURL = d.Ad.VideoURL
			title = d.Ad.Title
		}

		a.notifier.Broadcast(ws.GroupSchedule(d.Schedule.ID), "ad", map[string]interface{}{
			"ad_live_stream_id": d.Placement.ID,
			"video_url":         videoURL,
			"title":             title,
			"account_id":        d.Placement.AccountID,
			"play_at":           d.Placement.PlayAt,
			"end_at":            d.Placement.PlayAt.Add(duration),
		})
		log.WithField("schedule_id", d.Schedule.ID).Info("Ad break dispatched")
	}
}

// SweepExpired marks every placement past its play time as played and debits
// the advertiser's package. Packages are cached per account for the tick so a
// batch of placements from one advertiser costs one read and N writes, not N
// of each. The mark is a direct update keyed on the row id, so re-running the
// sweep on unchanged data finds nothing and meters nothing.
func (a *AdLoop) SweepExpired(ctx context.Context) {
	expired, err := a.store.Ads.ListExpiredUnplayed(ctx, a.now())
	if err != nil {
		a.logger.WithError(err).Error("Failed to list expired ads")
		return
	}
	if len(expired) == 0 {
		return
	}

	packages := make(map[string]*models.AccountPackage)
	for _, placement := range expired {
		log := a.logger.WithField("ad_live_stream_id", placement.ID)

		if err := a.store.Ads.MarkPlayedDirect(ctx, placement.ID); err != nil {
			log.WithError(err).Error("Failed to mark ad played")
			continue
		}

		pkg, seen := packages[placement.AccountID]
		if !seen {
			pkg, err = a.store.Packages.GetActiveByAccount(ctx, placement.AccountID)
			if err != nil {
				log.WithError(err).WithField("account_id", placement.AccountID).Error("Failed to load advertiser package")
				continue
			}
			packages[placement.AccountID] = pkg
		}
		if pkg == nil {
			log.WithField("account_id", placement.AccountID).Warn("Advertiser has no active package, skipping debit")
			continue
		}

		minutes := float64(placement.DurationSeconds) / 60
		if err := a.meter.DebitPackage(ctx, pkg, minutes); err != nil {
			log.WithError(err).WithField("account_id", placement.AccountID).Error("Failed to debit ad minutes")
			continue
		}
		a.metrics.debit("ad_playback", minutes)
		log.WithFields(logging.Fields{
			"account_id": placement.AccountID,
			"minutes":    minutes,
			"remaining":  pkg.RemainingMinutes,
		}).Info("Expired ad swept and metered")
	}
}
