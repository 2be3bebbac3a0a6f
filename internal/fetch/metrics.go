package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK        = "ok"
	outcomeNotFound  = "not_found"
	outcomeRetry     = "retry"
	outcomeExhausted = "exhausted"
)

type metrics struct {
	attempts *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe_gsea",
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "HTTP fetch attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *metrics) observe(outcome string) {
	m.attempts.WithLabelValues(outcome).Inc()
}

// RegisterMetrics registers the fetch counters with reg.
func (f *Fetcher) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(f.metrics.attempts)
}
