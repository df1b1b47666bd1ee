// Package metrics exposes a Prometheus collector for the agent's own
// health counters: ring buffer overrun and dropped malformed records.
// It does not export per-connection TCP_INFO gauges; those belong to a
// TCP_INFO poller this agent does not run.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector implements prometheus.Collector over a small set of
// monotonically increasing counters, following the same
// Describe/Collect/mutex shape as the teacher's TCPInfoCollector.
type Collector struct {
	mu sync.Mutex

	ringLost       map[string]float64
	malformedDrops map[string]float64

	ringLostDesc       *prometheus.Desc
	malformedDropsDesc *prometheus.Desc
}

// New returns a ready Collector. Register it with a prometheus.Registry
// the same way cmd/masdeepflow wires up any other exporter.
func New() *Collector {
	return &Collector{
		ringLost:       make(map[string]float64),
		malformedDrops: make(map[string]float64),
		ringLostDesc: prometheus.NewDesc(
			"masdeepflow_ring_buffer_lost_samples_total",
			"Samples the kernel reports as dropped before user space could read them.",
			[]string{"family"}, nil,
		),
		malformedDropsDesc: prometheus.NewDesc(
			"masdeepflow_malformed_records_dropped_total",
			"Ring buffer records the dispatcher could not decode.",
			[]string{"family"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.ringLostDesc
	descs <- c.malformedDropsDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for family, v := range c.ringLost {
		metrics <- prometheus.MustNewConstMetric(c.ringLostDesc, prometheus.CounterValue, v, family)
	}
	for family, v := range c.malformedDrops {
		metrics <- prometheus.MustNewConstMetric(c.malformedDropsDesc, prometheus.CounterValue, v, family)
	}
}

// SetRingLost records the cumulative ring buffer loss count for a family
// ("process", "tcp") as read straight from the kernel's own counter map
// (internal/kernel.PollRingDrops) — the kernel's total, not a delta this
// package accumulates itself.
func (c *Collector) SetRingLost(family string, total float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ringLost[family] = total
}

// IncMalformedDrop accumulates decode failures for a given family.
func (c *Collector) IncMalformedDrop(family string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformedDrops[family]++
}
