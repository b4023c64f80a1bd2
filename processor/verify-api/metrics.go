package verifyapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification lifecycle.
type Metrics struct {
	// Successful trust transitions by destination level
	Transitions *prometheus.CounterVec

	// Forced downgrades from accepted challenges
	Downgrades prometheus.Counter

	// Challenge lifecycle operations by action
	Challenges *prometheus.CounterVec

	// Commit records appended to the ledger
	Commits prometheus.Counter

	// Units dispatched in the most recent ready batch
	BatchSize prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg. Each component
// instance carries its own registry so tests can run several side by side.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_transitions_total",
			Help: "Total successful trust level transitions by destination level",
		}, []string{"to_level"}),

		Downgrades: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "veriflow_downgrades_total",
			Help: "Total forced downgrades from accepted challenges",
		}),

		Challenges: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_challenges_total",
			Help: "Total challenge operations by action",
		}, []string{"action"}), // action: "raised", "resolved"

		Commits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "veriflow_commits_total",
			Help: "Total commit records appended to the ledger",
		}),

		BatchSize: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "veriflow_batch_ready_units",
			Help: "Units dispatched in the most recent ready batch",
		}),
	}
}

// IncrementTransition records a successful level transition.
func (m *Metrics) IncrementTransition(toLevel string) {
	if m != nil {
		m.Transitions.WithLabelValues(toLevel).Inc()
	}
}

// IncrementDowngrade records a forced downgrade.
func (m *Metrics) IncrementDowngrade() {
	if m != nil {
		m.Downgrades.Inc()
	}
}

// IncrementChallenge records a challenge operation.
func (m *Metrics) IncrementChallenge(action string) {
	if m != nil {
		m.Challenges.WithLabelValues(action).Inc()
	}
}

// IncrementCommit records an appended commit record.
func (m *Metrics) IncrementCommit() {
	if m != nil {
		m.Commits.Inc()
	}
}

// SetBatchSize records the size of the latest ready batch.
func (m *Metrics) SetBatchSize(n int) {
	if m != nil {
		m.BatchSize.Set(float64(n))
	}
}
