package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qssma_feed"

// Collector is a prometheus.Collector for the notice feed.
type Collector struct {
	activeNotices  prometheus.Gauge
	snapshots      prometheus.Counter
	subscriptions  prometheus.Counter
	observerPanics prometheus.Counter
}

func NewMetricsCollector() *Collector {
	return &Collector{
		activeNotices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_notices",
			Help:      "Notices in the latest applied snapshot.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "snapshots_total",
			Help:      "Snapshots applied to the feed.",
		}),
		subscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "subscriptions_total",
			Help:      "Live subscriptions opened against the gateway.",
		}),
		observerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "observer_panics_total",
			Help:      "Observer callbacks that panicked and were isolated.",
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.activeNotices.Describe(ch)
	c.snapshots.Describe(ch)
	c.subscriptions.Describe(ch)
	c.observerPanics.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.activeNotices.Collect(ch)
	c.snapshots.Collect(ch)
	c.subscriptions.Collect(ch)
	c.observerPanics.Collect(ch)
}
