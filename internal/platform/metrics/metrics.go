package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the intake pipeline.
type Metrics struct {
	SubmissionsAccepted prometheus.Counter
	SubmissionsRejected *prometheus.CounterVec
	CommitDuration      prometheus.Histogram
	StageSaves          prometheus.Counter
	AutoSaves           prometheus.Counter
}

// New creates and registers all intake metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SubmissionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "censo_submissions_accepted_total",
			Help: "Submissions that committed a new family aggregate",
		}),
		SubmissionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "censo_submissions_rejected_total",
			Help: "Submissions rejected, labelled by reason",
		}, []string{"reason"}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "censo_commit_duration_seconds",
			Help:    "Latency of the aggregate-writer transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		StageSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "censo_stage_saves_total",
			Help: "Explicit stage saves persisted",
		}),
		AutoSaves: promauto.NewCounter(prometheus.CounterOpts{
			Name: "censo_auto_saves_total",
			Help: "Auto-save snapshots persisted",
		}),
	}
}

// ObserveCommit records one writer transaction duration.
func (m *Metrics) ObserveCommit(start time.Time) {
	if m == nil {
		return
	}
	m.CommitDuration.Observe(time.Since(start).Seconds())
}

// RejectSubmission counts one rejected submission by reason.
func (m *Metrics) RejectSubmission(reason string) {
	if m == nil {
		return
	}
	m.SubmissionsRejected.WithLabelValues(reason).Inc()
}

// AcceptSubmission counts one committed submission.
func (m *Metrics) AcceptSubmission() {
	if m == nil {
		return
	}
	m.SubmissionsAccepted.Inc()
}

// StageSave counts one explicit stage save.
func (m *Metrics) StageSave() {
	if m == nil {
		return
	}
	m.StageSaves.Inc()
}

// AutoSave counts one auto-save snapshot.
func (m *Metrics) AutoSave() {
	if m == nil {
		return
	}
	m.AutoSaves.Inc()
}
