package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type brokerMetrics struct {
	published     prometheus.Counter
	dropped       prometheus.Counter
	subscriptions prometheus.Gauge
}

func newBrokerMetrics(promRegistry prometheus.Registerer, kind string) *brokerMetrics {
	if promRegistry == nil {
		return nil
	}
	factory := promauto.With(promRegistry)
	labels := prometheus.Labels{"broker": kind}
	return &brokerMetrics{
		published: factory.NewCounter(prometheus.CounterOpts{
			Name:        "portal_realtime_events_published_total",
			Help:        "Membership events published",
			ConstLabels: labels,
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name:        "portal_realtime_events_dropped_total",
			Help:        "Membership events dropped because a subscriber queue was full or undecodable",
			ConstLabels: labels,
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "portal_realtime_subscriptions",
			Help:        "Active channel subscriptions",
			ConstLabels: labels,
		}),
	}
}

func (m *brokerMetrics) incPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *brokerMetrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *brokerMetrics) addSubscriptions(delta float64) {
	if m != nil {
		m.subscriptions.Add(delta)
	}
}
