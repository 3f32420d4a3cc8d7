// Package metrics exposes Prometheus counters for the ledger engine and its
// HTTP surface. Every method is safe on a nil *Collector.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	LedgersComputed      prometheus.Counter
	PaymentsRecorded     prometheus.Counter
	DuplicatesCollapsed  prometheus.Counter
	AmbiguousRecords     prometheus.Counter
	UnmatchedRecords     prometheus.Counter
	CollaboratorFailures *prometheus.CounterVec
	InvariantViolations  prometheus.Counter

	OutstandingPatients prometheus.Gauge
	OutstandingAmount   prometheus.Gauge
}

// NewCollector registers all metrics on a private registry so tests can build
// as many collectors as they like.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "route"}),

		LedgersComputed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "computed_total",
			Help:      "Ledgers recomputed from raw records.",
		}),

		PaymentsRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "payments_recorded_total",
			Help:      "Payments appended through the engine.",
		}),

		DuplicatesCollapsed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "duplicates_collapsed_total",
			Help:      "Raw records dropped as duplicates of another record.",
		}),

		AmbiguousRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "ambiguous_records_total",
			Help:      "Records excluded because they matched several patients.",
		}),

		UnmatchedRecords: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matcher",
			Name:      "unmatched_records_total",
			Help:      "Records that matched no patient.",
		}),

		CollaboratorFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Failed reads and writes against the record store.",
		}, []string{"op"}),

		InvariantViolations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Computed ledgers that failed invariant checks.",
		}),

		OutstandingPatients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "outstanding_patients",
			Help:      "Patients with a positive due amount at the last sweep.",
		}),

		OutstandingAmount: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "outstanding_amount",
			Help:      "Sum of positive due amounts at the last sweep.",
		}),
	}
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (c *Collector) LedgerComputed() {
	if c != nil {
		c.LedgersComputed.Inc()
	}
}

func (c *Collector) PaymentRecorded() {
	if c != nil {
		c.PaymentsRecorded.Inc()
	}
}

func (c *Collector) Duplicates(n int) {
	if c != nil && n > 0 {
		c.DuplicatesCollapsed.Add(float64(n))
	}
}

func (c *Collector) MatchOutcome(ambiguous, unmatched int) {
	if c == nil {
		return
	}
	if ambiguous > 0 {
		c.AmbiguousRecords.Add(float64(ambiguous))
	}
	if unmatched > 0 {
		c.UnmatchedRecords.Add(float64(unmatched))
	}
}

func (c *Collector) CollaboratorFailed(op string) {
	if c != nil {
		c.CollaboratorFailures.WithLabelValues(op).Inc()
	}
}

func (c *Collector) InvariantViolated() {
	if c != nil {
		c.InvariantViolations.Inc()
	}
}

func (c *Collector) SetOutstanding(patients int, amount float64) {
	if c == nil {
		return
	}
	c.OutstandingPatients.Set(float64(patients))
	c.OutstandingAmount.Set(amount)
}
