package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"

	"campustv/pkg/models"
	"campustv/pkg/monitoring"
)

// Metrics holds the engine's Prometheus counters. A nil *Metrics records
// nothing, so loops constructed without a collector work unchanged.
type Metrics struct {
	ticks          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	finalizations  *prometheus.CounterVec
	minutesDebited *prometheus.CounterVec
}

// NewMetrics registers the engine counters on the service collector.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		ticks:          mc.NewCounter("reconciler_ticks_total", "Reconciliation loop ticks", []string{"loop"}),
		transitions:    mc.NewCounter("schedule_transitions_total", "Schedule status transitions", []string{"status"}),
		finalizations:  mc.NewCounter("stream_finalizations_total", "Finalized stream recordings", []string{"path"}),
		minutesDebited: mc.NewCounter("minutes_debited_total", "Prepaid minutes debited", []string{"reason"}),
	}
}

func (m *Metrics) tick(loop string) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(loop).Inc()
}

func (m *Metrics) transition(status models.ScheduleStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) finalization(path string) {
	if m == nil {
		return
	}
	m.finalizations.WithLabelValues(path).Inc()
}

func (m *Metrics) debit(reason string, minutes float64) {
	if m == nil {
		return
	}
	m.minutesDebited.WithLabelValues(reason).Add(minutes)
}
