package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descMessagesTotal = prometheus.NewDesc(
		"coordhub_messages_total",
		"Messages routed through the bus, by message type.",
		[]string{"type"}, nil,
	)
	descConflictsTotal = prometheus.NewDesc(
		"coordhub_negotiation_conflicts_total",
		"Resource negotiation conflicts.",
		nil, nil,
	)
	descCoordinationTotal = prometheus.NewDesc(
		"coordhub_coordination_total",
		"Coordination attempts, by outcome.",
		[]string{"outcome"}, nil,
	)
	descOfflineTotal = prometheus.NewDesc(
		"coordhub_agents_marked_offline_total",
		"Agents forced offline by the liveness monitor.",
		nil, nil,
	)
	descUtilization = prometheus.NewDesc(
		"coordhub_resource_utilization",
		"Fraction of each resource pool currently allocated.",
		[]string{"kind"}, nil,
	)
	descActiveTasks = prometheus.NewDesc(
		"coordhub_active_tasks",
		"Tasks currently pending or assigned.",
		nil, nil,
	)
	descHandlerLatency = prometheus.NewDesc(
		"coordhub_handler_latency_seconds_avg",
		"Mean dispatch handler latency over the sample window.",
		nil, nil,
	)
)

// Collector exposes a Metrics instance to a Prometheus registry.
type Collector struct {
	metrics *Metrics
}

// NewCollector wraps metrics for registration with prometheus.Register.
func NewCollector(m *Metrics) *Collector {
	return &Collector{metrics: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descMessagesTotal
	ch <- descConflictsTotal
	ch <- descCoordinationTotal
	ch <- descOfflineTotal
	ch <- descUtilization
	ch <- descActiveTasks
	ch <- descHandlerLatency
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	for msgType, count := range snap.MessagesByType {
		ch <- prometheus.MustNewConstMetric(
			descMessagesTotal, prometheus.CounterValue, float64(count), msgType)
	}
	ch <- prometheus.MustNewConstMetric(
		descConflictsTotal, prometheus.CounterValue, float64(snap.NegotiationConflicts))
	ch <- prometheus.MustNewConstMetric(
		descCoordinationTotal, prometheus.CounterValue, float64(snap.CoordinationSucceeded), "success")
	ch <- prometheus.MustNewConstMetric(
		descCoordinationTotal, prometheus.CounterValue, float64(snap.CoordinationFailed), "failure")
	ch <- prometheus.MustNewConstMetric(
		descOfflineTotal, prometheus.CounterValue, float64(snap.AgentsMarkedOffline))
	for kind, util := range snap.Utilization {
		ch <- prometheus.MustNewConstMetric(
			descUtilization, prometheus.GaugeValue, util, kind)
	}
	ch <- prometheus.MustNewConstMetric(
		descActiveTasks, prometheus.GaugeValue, float64(snap.ActiveTasks))
	ch <- prometheus.MustNewConstMetric(
		descHandlerLatency, prometheus.GaugeValue, snap.AvgHandlerLatency.Seconds())
}
