package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Intent metrics
	IntentsTotal   *prometheus.CounterVec
	IntentDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerCallDuration *prometheus.HistogramVec
	LedgerErrors       *prometheus.CounterVec

	// Mirror metrics
	MirrorWriteFailures *prometheus.CounterVec
	RepairsTotal        *prometheus.CounterVec
	RepairQueueSize     prometheus.Gauge

	// Reconciliation metrics
	ChangeEventsTotal    *prometheus.CounterVec
	SnapshotsRepublished *prometheus.CounterVec
	StaleQuorums         prometheus.Counter
	PayoutsAuthorized    *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
}

// NewMetrics creates metrics registered on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics registered on reg
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IntentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_intents_total",
				Help: "Total number of intents applied",
			},
			[]string{"kind", "outcome"},
		),

		IntentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_intent_duration_seconds",
				Help:    "Duration of intent application",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		LedgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_ledger_call_duration_seconds",
				Help:    "Duration of ledger calls including confirmation",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),

		LedgerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_ledger_errors_total",
				Help: "Total number of ledger call errors",
			},
			[]string{"operation", "error_code"},
		),

		MirrorWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_mirror_write_failures_total",
				Help: "Total number of failed mirror writes",
			},
			[]string{"entity"},
		),

		RepairsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_mirror_repairs_total",
				Help: "Total number of mirror repair attempts",
			},
			[]string{"status"},
		),

		RepairQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "treasury_mirror_repair_queue_size",
				Help: "Current size of the mirror repair queue",
			},
		),

		ChangeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_change_events_total",
				Help: "Total number of mirror change events received",
			},
			[]string{"table"},
		),

		SnapshotsRepublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_snapshots_republished_total",
				Help: "Total number of snapshots re-derived and broadcast",
			},
			[]string{"entity"},
		),

		StaleQuorums: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "treasury_stale_quorums_total",
				Help: "Requests whose frozen quorum differs from the present electorate",
			},
		),

		PayoutsAuthorized: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_payouts_authorized_total",
				Help: "Total number of payout authorizations published",
			},
			[]string{"status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treasury_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treasury_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 90},
			},
			[]string{"method", "route"},
		),

		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "treasury_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
	}
}

// RecordIntent records an applied intent
func (m *Metrics) RecordIntent(kind, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.IntentsTotal.WithLabelValues(kind, outcome).Inc()
	m.IntentDuration.WithLabelValues(kind).Observe(duration)
}

// RecordLedgerCall records a ledger call and its error code, if any
func (m *Metrics) RecordLedgerCall(operation, errorCode string, duration float64) {
	if m == nil {
		return
	}
	m.LedgerCallDuration.WithLabelValues(operation).Observe(duration)
	if errorCode != "" {
		m.LedgerErrors.WithLabelValues(operation, errorCode).Inc()
	}
}

// RecordMirrorWriteFailure records a failed mirror write
func (m *Metrics) RecordMirrorWriteFailure(entity string) {
	if m == nil {
		return
	}
	m.MirrorWriteFailures.WithLabelValues(entity).Inc()
}

// RecordRepair records a repair attempt
func (m *Metrics) RecordRepair(status string) {
	if m == nil {
		return
	}
	m.RepairsTotal.WithLabelValues(status).Inc()
}

// UpdateRepairQueueSize updates the repair queue size
func (m *Metrics) UpdateRepairQueueSize(size int) {
	if m == nil {
		return
	}
	m.RepairQueueSize.Set(float64(size))
}

// RecordChangeEvent records a received change event
func (m *Metrics) RecordChangeEvent(table string) {
	if m == nil {
		return
	}
	m.ChangeEventsTotal.WithLabelValues(table).Inc()
}

// RecordSnapshotRepublished records a broadcast snapshot
func (m *Metrics) RecordSnapshotRepublished(entity string) {
	if m == nil {
		return
	}
	m.SnapshotsRepublished.WithLabelValues(entity).Inc()
}

// RecordStaleQuorum records a stale quorum observation
func (m *Metrics) RecordStaleQuorum() {
	if m == nil {
		return
	}
	m.StaleQuorums.Inc()
}

// RecordPayout records a payout authorization publish
func (m *Metrics) RecordPayout(status string) {
	if m == nil {
		return
	}
	m.PayoutsAuthorized.WithLabelValues(status).Inc()
}
