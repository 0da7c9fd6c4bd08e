// Package metrics exports controller loop counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/danielpatrickdp/diffuservo/internal/control"
)

// Metrics implements orchestrator.Observer on a Prometheus registry.
type Metrics struct {
	iterations  *prometheus.CounterVec
	skips       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	scores      *prometheus.HistogramVec
	bestScore   prometheus.Histogram
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		iterations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diffuservo_iterations_total",
			Help: "Scored iterations by state and tier",
		}, []string{"state", "tier"}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diffuservo_skipped_iterations_total",
			Help: "Skipped iterations by stage",
		}, []string{"stage"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diffuservo_state_transitions_total",
			Help: "Control state transitions",
		}, []string{"from", "to"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "diffuservo_runs_total",
			Help: "Finished runs by outcome",
		}, []string{"outcome"}),
		scores: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "diffuservo_iteration_score",
			Help:    "Judge final score per scored iteration",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}, []string{"tier"}),
		bestScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "diffuservo_run_best_score",
			Help:    "Best score reached per finished run",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
}

func (m *Metrics) ObserveIteration(state control.State, tier control.Tier, final float64) {
	m.iterations.WithLabelValues(string(state), string(tier)).Inc()
	m.scores.WithLabelValues(string(tier)).Observe(final)
}

func (m *Metrics) ObserveSkip(stage string) {
	m.skips.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveTransition(from, to control.State) {
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) ObserveOutcome(outcome control.Outcome, best float64) {
	m.outcomes.WithLabelValues(string(outcome)).Inc()
	if best > 0 {
		m.bestScore.Observe(best)
	}
}
