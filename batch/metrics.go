package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus counters for the batch lifecycle.
//
// Metrics:
//   - embedvector_batches_submitted_total{type}
//   - embedvector_batch_submissions_failed_total{type}
//   - embedvector_batch_status_changes_total{status}
//   - embedvector_embeddings_ingested_total{type}
//   - embedvector_result_lines_skipped_total{type}
//   - embedvector_poll_cycles_total
type Metrics struct {
	BatchesSubmitted  *prometheus.CounterVec
	SubmissionsFailed *prometheus.CounterVec
	StatusChanges     *prometheus.CounterVec
	Ingested          *prometheus.CounterVec
	LinesSkipped      *prometheus.CounterVec
	PollCycles        prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		BatchesSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_batches_submitted_total",
			Help: "Total number of batch jobs created at the provider",
		}, []string{"type"}),
		SubmissionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_batch_submissions_failed_total",
			Help: "Total number of input files that could not be submitted",
		}, []string{"type"}),
		StatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_batch_status_changes_total",
			Help: "Total number of persisted batch status changes by new status",
		}, []string{"status"}),
		Ingested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_embeddings_ingested_total",
			Help: "Total number of embeddings upserted from result files",
		}, []string{"type"}),
		LinesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_result_lines_skipped_total",
			Help: "Total number of result lines without a vector",
		}, []string{"type"}),
		PollCycles: f.NewCounter(prometheus.CounterOpts{
			Name: "embedvector_poll_cycles_total",
			Help: "Total number of poll cycles run",
		}),
	}
}

// The methods below accept a nil receiver so components can record
// unconditionally.

func (m *Metrics) submitted(modelType string) {
	if m != nil {
		m.BatchesSubmitted.WithLabelValues(modelType).Inc()
	}
}

func (m *Metrics) submissionFailed(modelType string) {
	if m != nil {
		m.SubmissionsFailed.WithLabelValues(modelType).Inc()
	}
}

func (m *Metrics) statusChanged(status string) {
	if m != nil {
		m.StatusChanges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) ingested(modelType string, n int) {
	if m != nil && n > 0 {
		m.Ingested.WithLabelValues(modelType).Add(float64(n))
	}
}

func (m *Metrics) skipped(modelType string, n int) {
	if m != nil && n > 0 {
		m.LinesSkipped.WithLabelValues(modelType).Add(float64(n))
	}
}

func (m *Metrics) pollCycle() {
	if m != nil {
		m.PollCycles.Inc()
	}
}
