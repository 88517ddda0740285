// Package metrics exposes Prometheus instrumentation for the matcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eddiefleurent/mifflin_matcher/internal/models"
)

// Metrics holds the matcher's Prometheus collectors.
type Metrics struct {
	RunsTotal      prometheus.Counter
	RunErrorsTotal prometheus.Counter
	RunDuration    prometheus.Histogram

	MatchesTotal     *prometheus.CounterVec
	ManualReviewOpen prometheus.Gauge
}

// New registers the matcher collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "matcher_runs_total",
			Help: "Completed reconciliation runs.",
		}),
		RunErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "matcher_run_errors_total",
			Help: "Reconciliation runs that failed.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matcher_run_duration_seconds",
			Help:    "Wall time of one reconciliation run.",
			Buckets: prometheus.DefBuckets,
		}),
		MatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matcher_matches_total",
			Help: "Matches produced, by strategy and confidence.",
		}, []string{"strategy", "confidence"}),
		ManualReviewOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "matcher_manual_review_matches",
			Help: "Matches flagged for manual review in the latest runs.",
		}),
	}
}

// ObserveRun records the outcome of one account's reconciliation run.
func (m *Metrics) ObserveRun(matches []models.Match, seconds float64) {
	m.RunsTotal.Inc()
	m.RunDuration.Observe(seconds)

	review := 0
	for i := range matches {
		m.MatchesTotal.WithLabelValues(string(matches[i].Strategy), string(matches[i].Confidence)).Inc()
		if matches[i].HasFlag(models.FlagManualReview) {
			review++
		}
	}
	m.ManualReviewOpen.Set(float64(review))
}
