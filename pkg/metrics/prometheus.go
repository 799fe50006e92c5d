package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quarterwave/heatring/pkg/heatmap"
	"github.com/quarterwave/heatring/pkg/histogram"
)

// summaryQuantiles are the percentiles exported for each heatmap, with the
// quantile label value spelled out so no float division artifact leaks
// into the scrape.
var summaryQuantiles = []struct {
	percentile float64
	quantile   float64
}{
	{50.0, 0.5},
	{90.0, 0.9},
	{99.0, 0.99},
	{99.9, 0.999},
}

// Collector bridges a Registry into a Prometheus scrape. Counters and
// gauges map directly; each heatmap becomes a summary whose quantiles are
// read from the cached window summary at scrape time.
type Collector struct {
	registry *Registry
}

// NewCollector wraps reg for registration with a prometheus.Registerer.
func NewCollector(reg *Registry) *Collector {
	return &Collector{registry: reg}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.registry.EachCounter(func(name string, counter *Counter) {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(promName(name), "", nil, nil),
			prometheus.CounterValue,
			float64(counter.Value()),
		)
		if err == nil {
			ch <- m
		}
	})

	c.registry.EachGauge(func(name string, gauge *Gauge) {
		m, err := prometheus.NewConstMetric(
			prometheus.NewDesc(promName(name), "", nil, nil),
			prometheus.GaugeValue,
			float64(gauge.Value()),
		)
		if err == nil {
			ch <- m
		}
	})

	c.registry.EachHeatmap(func(name string, hm *heatmap.Heatmap) {
		snap := hm.Summary().Snapshot()
		desc := prometheus.NewDesc(promName(name), "", nil, nil)

		quantiles := make(map[float64]float64, len(summaryQuantiles))
		if snap.Total() > 0 {
			ps := make([]float64, len(summaryQuantiles))
			for i, q := range summaryQuantiles {
				ps[i] = q.percentile
			}
			buckets, err := snap.Percentiles(ps...)
			if err != nil {
				return
			}
			for i, q := range summaryQuantiles {
				quantiles[q.quantile] = float64(buckets[i].Midpoint())
			}
		}

		// the histogram stores counts per bucket, not raw values, so the
		// sum is approximated from bucket midpoints
		var sum float64
		snap.Each(func(b histogram.Bucket) {
			sum += float64(b.Midpoint()) * float64(b.Count())
		})

		m, err := prometheus.NewConstSummary(desc, snap.Total(), sum, quantiles)
		if err == nil {
			ch <- m
		}
	})
}

// promName rewrites a registry name into the prometheus charset.
var promNameReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_", " ", "_")

func promName(name string) string {
	return promNameReplacer.Replace(name)
}
