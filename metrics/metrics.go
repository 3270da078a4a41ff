// Package metrics exposes Prometheus collectors for the cash ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crescieperdi/caixa/ledger"
)

const namespace = "caixa"

// Metrics bundles ledger metrics and implements ledger.Observer.
type Metrics struct {
	registry *prometheus.Registry

	MovementsTotal    *prometheus.CounterVec
	MovementAmount    *prometheus.CounterVec
	ReversalsTotal    *prometheus.CounterVec
	TransfersTotal    prometheus.Counter
	TransferAmount    prometheus.Counter
	ClosingsTotal     *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec
	PostingFailures   *prometheus.CounterVec
	AnomaliesTotal    *prometheus.CounterVec
	MissingClosings   prometheus.Gauge
	PendingClosings   prometheus.Gauge
	FailedPostings    prometheus.Gauge
	UnknownKinds      prometheus.Gauge
	WatchdogRunsTotal *prometheus.CounterVec
}

var _ ledger.Observer = (*Metrics)(nil)

// New constructs the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MovementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movements_total",
			Help:      "Total accepted movements by kind",
		}, []string{"kind"}),
		MovementAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movement_amount_brl_total",
			Help:      "Sum of accepted movement amounts in BRL by kind",
		}, []string{"kind"}),
		ReversalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movement_reversals_total",
			Help:      "Total deleted and reversed movements by kind",
		}, []string{"kind"}),
		TransfersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total transfers between registers",
		}),
		TransferAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_amount_brl_total",
			Help:      "Sum of transferred amounts in BRL",
		}),
		ClosingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closings_total",
			Help:      "Total recorded closings by initial status and variance class",
		}, []string{"status", "variance_class"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closing_decisions_total",
			Help:      "Total closing approvals and rejections",
		}, []string{"status"}),
		PostingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posting_failures_total",
			Help:      "Total failed ledger postings by kind",
		}, []string{"kind"}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statement_anomalies_total",
			Help:      "Movements with an unrecognized kind met while building statements",
		}, []string{"kind"}),
		MissingClosings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_closings",
			Help:      "Registers without an approved closing for the previous business day",
		}),
		PendingClosings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_closings",
			Help:      "Closings waiting for approval",
		}),
		FailedPostings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "failed_postings",
			Help:      "Postings waiting for a retry",
		}),
		UnknownKinds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_kind_movements",
			Help:      "Movements with an unrecognized kind on the previous business day",
		}),
		WatchdogRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_runs_total",
			Help:      "Closing watchdog runs by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MovementsTotal,
		m.MovementAmount,
		m.ReversalsTotal,
		m.TransfersTotal,
		m.TransferAmount,
		m.ClosingsTotal,
		m.DecisionsTotal,
		m.PostingFailures,
		m.AnomaliesTotal,
		m.MissingClosings,
		m.PendingClosings,
		m.FailedPostings,
		m.UnknownKinds,
		m.WatchdogRunsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MovementRecorded(kind ledger.MovementKind, amount ledger.Money) {
	m.MovementsTotal.WithLabelValues(string(kind)).Inc()
	m.MovementAmount.WithLabelValues(string(kind)).Add(amount.Decimal().InexactFloat64())
}

func (m *Metrics) MovementReversed(kind ledger.MovementKind, _ ledger.Money) {
	m.ReversalsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TransferExecuted(amount ledger.Money) {
	m.TransfersTotal.Inc()
	m.TransferAmount.Add(amount.Decimal().InexactFloat64())
}

func (m *Metrics) ClosingRecorded(status ledger.ClosingStatus, class ledger.VarianceClass) {
	m.ClosingsTotal.WithLabelValues(string(status), string(class)).Inc()
}

func (m *Metrics) ClosingDecided(status ledger.ClosingStatus) {
	m.DecisionsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) PostingFailed(kind ledger.MovementKind) {
	m.PostingFailures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) StatementAnomaly(kind ledger.MovementKind) {
	m.AnomaliesTotal.WithLabelValues(string(kind)).Inc()
}

// RecordDiagnostics updates the follow-up gauges from one diagnostics run.
func (m *Metrics) RecordDiagnostics(d *ledger.Diagnostics) {
	m.MissingClosings.Set(float64(len(d.MissingClosings)))
	m.PendingClosings.Set(float64(len(d.PendingClosings)))
	m.FailedPostings.Set(float64(len(d.FailedPostings)))
	m.UnknownKinds.Set(float64(len(d.UnknownKinds)))
}

// WatchdogRun counts one watchdog run; result is "ok" or "error".
func (m *Metrics) WatchdogRun(result string) {
	m.WatchdogRunsTotal.WithLabelValues(result).Inc()
}
