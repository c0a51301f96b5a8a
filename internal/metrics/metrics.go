package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for bookings, the credit ledger,
// payouts and the video provider. A nil *Metrics records nothing.
type Metrics struct {
	bookingsTotal    *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	ledgerEntries    *prometheus.CounterVec
	ledgerCredits    *prometheus.CounterVec
	payoutsTotal     *prometheus.CounterVec
	videoLatency     *prometheus.HistogramVec
	ledgerDrift      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "appointments",
			Name:      "transitions_total",
			Help:      "Committed appointment status transitions",
		}, []string{"to"}),
		ledgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "ledger",
			Name:      "entries_total",
			Help:      "Credit transactions appended, by type",
		}, []string{"type"}),
		ledgerCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "ledger",
			Name:      "credits_moved_total",
			Help:      "Absolute credits moved, by type",
		}, []string{"type"}),
		payoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consult",
			Subsystem: "payouts",
			Name:      "total",
			Help:      "Payout requests and approvals by outcome",
		}, []string{"stage", "outcome"}),
		videoLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consult",
			Subsystem: "video",
			Name:      "call_latency_seconds",
			Help:      "Latency of video provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		ledgerDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consult",
			Subsystem: "ledger",
			Name:      "drifted_accounts",
			Help:      "Accounts whose cached balance differs from the transaction log at the last audit",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.transitionsTotal, m.ledgerEntries, m.ledgerCredits,
		m.payoutsTotal, m.videoLatency, m.ledgerDrift)
	return m
}

func (m *Metrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveLedgerEntry(txType string, amount int64) {
	if m == nil {
		return
	}
	if amount < 0 {
		amount = -amount
	}
	m.ledgerEntries.WithLabelValues(txType).Inc()
	m.ledgerCredits.WithLabelValues(txType).Add(float64(amount))
}

func (m *Metrics) ObservePayout(stage, outcome string) {
	if m == nil {
		return
	}
	m.payoutsTotal.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveVideoCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.videoLatency.WithLabelValues(op, status).Observe(d.Seconds())
}

func (m *Metrics) SetLedgerDrift(n int) {
	if m == nil {
		return
	}
	m.ledgerDrift.Set(float64(n))
}
