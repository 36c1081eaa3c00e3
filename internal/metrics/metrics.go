// Package metrics provides Prometheus metrics for the wager service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects wager, arbitration, and payout metrics on a private
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ActionsTotal        *prometheus.CounterVec
	QuorumRoundsTotal   *prometheus.CounterVec
	QuorumRoundDuration *prometheus.HistogramVec
	EvaluationsTotal    *prometheus.CounterVec
	CommitAttempts      *prometheus.HistogramVec
	PayoutsTotal        *prometheus.CounterVec
	PayoutVolume        *prometheus.CounterVec
	PotResolved         prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		ActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_actions_total",
				Help: "State machine actions by action and result",
			},
			[]string{"action", "result"},
		),
		QuorumRoundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_quorum_rounds_total",
				Help: "Arbitration rounds by tier and result",
			},
			[]string{"tier", "result"},
		),
		QuorumRoundDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wager_quorum_round_duration_seconds",
				Help:    "Wall time of one arbitration round",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"tier"},
		),
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_quorum_evaluations_total",
				Help: "Individual evaluations by tier, outcome and failure",
			},
			[]string{"tier", "outcome", "failed"},
		),
		CommitAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wager_equivalence_commit_attempts",
				Help:    "Attempts needed before an equivalence commit settled",
				Buckets: []float64{1, 2, 3, 4, 5, 8},
			},
			[]string{"result"},
		),
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_payouts_total",
				Help: "Payout delivery attempts by transfer mode and status",
			},
			[]string{"mode", "status"},
		),
		PayoutVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wager_payout_volume_units",
				Help: "Stake units delivered by transfer mode",
			},
			[]string{"mode"},
		),
		PotResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wager_pot_resolved_units",
				Help: "Stake units distributed by resolution",
			},
		),
	}

	m.registry.MustRegister(
		m.ActionsTotal,
		m.QuorumRoundsTotal,
		m.QuorumRoundDuration,
		m.EvaluationsTotal,
		m.CommitAttempts,
		m.PayoutsTotal,
		m.PayoutVolume,
		m.PotResolved,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAction counts one state machine action.
func (m *Metrics) RecordAction(action, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

// RecordRound records a finished arbitration round.
func (m *Metrics) RecordRound(tier, result string, seconds float64) {
	if m == nil {
		return
	}
	m.QuorumRoundsTotal.WithLabelValues(tier, result).Inc()
	m.QuorumRoundDuration.WithLabelValues(tier).Observe(seconds)
}

// RecordEvaluation records one evaluation vote.
func (m *Metrics) RecordEvaluation(tier, outcome string, failed bool) {
	if m == nil {
		return
	}
	f := "false"
	if failed {
		f = "true"
	}
	m.EvaluationsTotal.WithLabelValues(tier, outcome, f).Inc()
}

// RecordCommitAttempts records how many attempts an equivalence commit took.
func (m *Metrics) RecordCommitAttempts(result string, attempts int) {
	if m == nil {
		return
	}
	m.CommitAttempts.WithLabelValues(result).Observe(float64(attempts))
}

// RecordPayout records one delivery attempt.
func (m *Metrics) RecordPayout(mode, status string, amount int64) {
	if m == nil {
		return
	}
	m.PayoutsTotal.WithLabelValues(mode, status).Inc()
	if status == "delivered" && amount > 0 {
		m.PayoutVolume.WithLabelValues(mode).Add(float64(amount))
	}
}

// RecordResolution adds a distributed pot.
func (m *Metrics) RecordResolution(pot int64) {
	if m == nil {
		return
	}
	m.PotResolved.Add(float64(pot))
}
