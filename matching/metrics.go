package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus counters for the matching engine.
type Metrics struct {
	Strategies *prometheus.CounterVec // embedvector_match_strategy_total{strategy}
	Reembeds   *prometheus.CounterVec // embedvector_match_reembeds_total{type}
}

// NewMetrics creates the counters and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Strategies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_match_strategy_total",
			Help: "Total number of match queries by executed strategy",
		}, []string{"strategy"}),
		Reembeds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "embedvector_match_reembeds_total",
			Help: "Total number of source vectors embedded on demand",
		}, []string{"type"}),
	}
}

func (m *Metrics) strategy(s Strategy) {
	if m != nil {
		m.Strategies.WithLabelValues(string(s)).Inc()
	}
}

func (m *Metrics) reembed(modelType string) {
	if m != nil {
		m.Reembeds.WithLabelValues(modelType).Inc()
	}
}
