package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type fanoutMetrics struct {
	runs       *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	pruned     prometheus.Counter
	duration   prometheus.Histogram
}

func newFanoutMetrics(promRegistry prometheus.Registerer) *fanoutMetrics {
	if promRegistry == nil {
		return nil
	}
	factory := promauto.With(promRegistry)
	return &fanoutMetrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_fanout_runs_total",
			Help: "Earthquake fan-out runs by outcome",
		}, []string{"outcome"}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_push_deliveries_total",
			Help: "Web push delivery attempts by result",
		}, []string{"result"}),
		pruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "portal_push_subscriptions_pruned_total",
			Help: "Expired push subscriptions removed after delivery",
		}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_fanout_duration_seconds",
			Help:    "Duration of earthquake fan-out runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *fanoutMetrics) observeRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.duration.Observe(seconds)
}

func (m *fanoutMetrics) observeDelivery(o Outcome) {
	if m == nil {
		return
	}
	switch {
	case o.Delivered():
		m.deliveries.WithLabelValues("delivered").Inc()
	case o.Expired():
		m.deliveries.WithLabelValues("expired").Inc()
	default:
		m.deliveries.WithLabelValues("failed").Inc()
	}
}

func (m *fanoutMetrics) addPruned(n int) {
	if m == nil || n == 0 {
		return
	}
	m.pruned.Add(float64(n))
}
