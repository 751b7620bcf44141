package reconciler

import (
	"context"
	"time"

	"campustv/internal/notify"
	"campustv/internal/payments"
	"campustv/internal/store"
	"campustv/pkg/logging"
	"campustv/pkg/models"
)

// OrderLoop reconciles stale pending orders against the payment gateway's own
// records: a simpler sibling of the stream loops sharing the same
// read-predicate, write-transition shape.
type OrderLoop struct {
	store    *store.Store
	gateway  payments.Gateway
	notifier notify.Notifier
	logger   logging.Logger
	interval time.Duration
	expiry   time.Duration // how long an order may sit pending before we ask the gateway
	metrics  *Metrics
	now      func() time.Time
}

// NewOrderLoop creates the order expiry loop.
func NewOrderLoop(st *store.Store, gateway payments.Gateway, notifier notify.Notifier, logger logging.Logger, interval, expiry time.Duration) *OrderLoop {
	return &OrderLoop{
		store:    st,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		interval: interval,
		expiry:   expiry,
		now:      time.Now,
	}
}

// WithMetrics attaches the engine counters.
func (o *OrderLoop) WithMetrics(m *Metrics) *OrderLoop {
	o.metrics = m
	return o
}

// Start runs the loop until the context is cancelled.
func (o *OrderLoop) Start(ctx context.Context) {
	o.logger.WithField("interval", o.interval.String()).Info("Starting order expiry loop")
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Stopping order expiry loop")
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick settles every pending order older than the expiry window against the
// gateway's status.
func (o *OrderLoop) Tick(ctx context.Context) {
	o.metrics.tick("orders")
	orders, err := o.store.Orders.ListExpiredPending(ctx, o.now().Add(-o.expiry))
	if err != nil {
		o.logger.WithError(err).Error("Failed to list expired pending orders")
		return
	}

	for _, order := range orders {
		log := o.logger.WithFields(logging.Fields{
			"order_id":   order.ID,
			"order_code": order.OrderCode,
		})

		status, err := o.gateway.GetOrderStatus(ctx, order.OrderCode)
		if err != nil {
			log.WithError(err).Warn("Failed to query payment status")
			continue
		}

		if err := o.Settle(ctx, order, status); err != nil {
			log.WithError(err).Error("Failed to settle order")
		}
	}
}

// Settle moves one pending order to its terminal status and, on completion,
// credits the purchased minutes. Shared with the payment webhook handler; the
// conditional status write makes the two paths race-safe.
func (o *OrderLoop) Settle(ctx context.Context, order models.Order, status payments.Status) error {
	log := o.logger.WithFields(logging.Fields{
		"order_id":   order.ID,
		"order_code": order.OrderCode,
		"status":     string(status),
	})

	switch status {
	case payments.StatusPaid:
		won, err := o.store.Orders.SetStatusIfPending(ctx, order.ID, models.OrderCompleted)
		if err != nil {
			return err
		}
		if !won {
			log.Debug("Order already settled, skipping")
			return nil
		}
		if err := o.store.Packages.CreditOrExtend(ctx, order.AccountID, order.PackageMinutes, order.PackageDays, o.now()); err != nil {
			return err
		}
		o.notifier.Notify(ctx, order.AccountID, "Package activated",
			"Your minutes package purchase is complete.")
		log.Info("Order completed, package credited")

	case payments.StatusFailed:
		won, err := o.store.Orders.SetStatusIfPending(ctx, order.ID, models.OrderFailed)
		if err != nil {
			return err
		}
		if won {
			log.Info("Order marked failed")
		}

	default:
		// Still pending at the gateway: leave it for the next tick.
	}
	return nil
}
