package offline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "qssma_offline"

// Collector is a prometheus.Collector for the offline cache.
type Collector struct {
	lookups       *prometheus.CounterVec
	writeFailures prometheus.Counter
	activations   prometheus.Counter
}

func NewMetricsCollector() *Collector {
	return &Collector{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests handled by the offline cache, by class and how they were served.",
		}, []string{"class", "result"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_failures_total",
			Help:      "Cache writes that failed and were skipped.",
		}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "activations_total",
			Help:      "Cache generations activated.",
		}),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.lookups.Describe(ch)
	c.writeFailures.Describe(ch)
	c.activations.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lookups.Collect(ch)
	c.writeFailures.Collect(ch)
	c.activations.Collect(ch)
}
