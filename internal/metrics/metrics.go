// Package metrics exposes Prometheus collectors for campaign money movement.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeUnknown  = "unknown"
)

// Recorder receives money-movement observations from the application service.
type Recorder interface {
	ObserveContribution(outcome string, amount int64)
	ObserveRefund(outcome string, amount int64)
	ObservePayout(outcome string, amount int64)
	SetEscrowBalance(amount int64)
	SetPhase(phase string)
	SetUnsettledTransfers(count int)
}

// Metrics holds the collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	contributions      *prometheus.CounterVec
	contributionAmount prometheus.Counter
	refunds            *prometheus.CounterVec
	refundAmount       prometheus.Counter
	payouts            *prometheus.CounterVec
	payoutAmount       prometheus.Counter
	escrowBalance      prometheus.Gauge
	unsettled          prometheus.Gauge
	phase              *prometheus.GaugeVec
}

var phases = []string{"open", "successful", "failed"}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "contributions_total",
			Help:      "Contribution attempts by outcome.",
		}, []string{"outcome"}),
		contributionAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "contributed_kobo_total",
			Help:      "Amount pulled into escrow, in kobo.",
		}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome.",
		}, []string{"outcome"}),
		refundAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "refunded_kobo_total",
			Help:      "Amount returned to contributors, in kobo.",
		}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "payouts_total",
			Help:      "Beneficiary payout attempts by outcome.",
		}, []string{"outcome"}),
		payoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crowdfund",
			Name:      "paid_out_kobo_total",
			Help:      "Amount paid to the beneficiary, in kobo.",
		}),
		escrowBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Name:      "escrow_balance_kobo",
			Help:      "Funds currently held in escrow, in kobo.",
		}),
		unsettled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Name:      "unsettled_transfers",
			Help:      "Transfers with an unknown outcome awaiting settlement.",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "crowdfund",
			Name:      "campaign_phase",
			Help:      "1 for the current campaign phase, 0 otherwise.",
		}, []string{"phase"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.contributions,
		m.contributionAmount,
		m.refunds,
		m.refundAmount,
		m.payouts,
		m.payoutAmount,
		m.escrowBalance,
		m.unsettled,
		m.phase,
	)
	m.SetPhase("open")
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveContribution(outcome string, amount int64) {
	m.contributions.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.contributionAmount.Add(float64(amount))
	}
}

func (m *Metrics) ObserveRefund(outcome string, amount int64) {
	m.refunds.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.refundAmount.Add(float64(amount))
	}
}

func (m *Metrics) ObservePayout(outcome string, amount int64) {
	m.payouts.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess && amount > 0 {
		m.payoutAmount.Add(float64(amount))
	}
}

func (m *Metrics) SetEscrowBalance(amount int64) {
	m.escrowBalance.Set(float64(amount))
}

func (m *Metrics) SetUnsettledTransfers(count int) {
	m.unsettled.Set(float64(count))
}

func (m *Metrics) SetPhase(phase string) {
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		m.phase.WithLabelValues(p).Set(value)
	}
}

// Noop discards every observation.
type Noop struct{}

func (Noop) ObserveContribution(string, int64) {}
func (Noop) ObserveRefund(string, int64)       {}
func (Noop) ObservePayout(string, int64)       {}
func (Noop) SetEscrowBalance(int64)            {}
func (Noop) SetPhase(string)                   {}
func (Noop) SetUnsettledTransfers(int)         {}
