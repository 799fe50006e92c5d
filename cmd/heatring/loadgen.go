package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/quarterwave/heatring/pkg/agent"
	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/heatmap"
	"github.com/quarterwave/heatring/pkg/ratelimit"
	"github.com/quarterwave/heatring/pkg/waterfall"
)

// runLoadgenCmd handles "heatring loadgen [flags]": drive synthetic
// latencies through a heatmap and cross-check its percentiles against an
// HDR histogram recording the same stream.
func runLoadgenCmd() {
	fs := flag.NewFlagSet("loadgen", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file")
	rate := fs.Uint64("rate", 0, "Requests per second (overrides config)")
	duration := fs.Duration("duration", 0, "How long to run (overrides config)")
	workers := fs.Int("workers", 0, "Concurrent generators (overrides config)")
	showWaterfall := fs.Bool("waterfall", false, "Render the heatmap to the terminal when done")
	fs.Parse(os.Args[2:])

	cfg, err := loadConfig(*configFile, "")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *rate > 0 {
		cfg.Loadgen.Rate = *rate
	}
	if *duration > 0 {
		cfg.Loadgen.Duration = *duration
	}
	if *workers > 0 {
		cfg.Loadgen.Workers = *workers
	}

	metric := cfg.Metrics[0]
	hm, err := heatmap.New(metric.GroupingPower, metric.MaxValuePower, metric.Resolution, metric.Span)
	if err != nil {
		fmt.Printf("Error building heatmap: %v\n", err)
		os.Exit(1)
	}

	limiter, err := ratelimit.New(cfg.Loadgen.Burst, 1, cfg.Loadgen.Rate)
	if err != nil {
		fmt.Printf("Error building limiter: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generating %s req/s for %v across %d workers...\n",
		humanize.Comma(int64(cfg.Loadgen.Rate)), cfg.Loadgen.Duration, cfg.Loadgen.Workers)

	// heatmap maintenance runs alongside the workers, as it would in an
	// agent
	stopTicking := make(chan struct{})
	var tickWg sync.WaitGroup
	tickWg.Add(1)
	go func() {
		defer tickWg.Done()
		ticker := time.NewTicker(metric.Resolution / 4)
		defer ticker.Stop()
		for {
			select {
			case <-stopTicking:
				return
			case <-ticker.C:
				hm.Tick(clock.Now())
			}
		}
	}()

	deadline := time.Now().Add(cfg.Loadgen.Duration)
	references := make([]*hdrhistogram.Histogram, cfg.Loadgen.Workers)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Loadgen.Workers; w++ {
		wg.Add(1)
		// one minute in nanoseconds comfortably covers the tail
		ref := hdrhistogram.New(1, int64(time.Minute), 3)
		references[w] = ref
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for time.Now().Before(deadline) {
				limiter.Wait()
				v := sampleLatency(rng)
				hm.Increment(v)
				ref.RecordValue(int64(v))
			}
		}(int64(w) + 1)
	}
	wg.Wait()
	close(stopTicking)
	tickWg.Wait()

	reference := references[0]
	for _, ref := range references[1:] {
		reference.Merge(ref)
	}

	printComparison(hm, reference)

	if *showWaterfall {
		fmt.Println()
		if err := waterfall.New().Width(80).RenderTerminal(os.Stdout, hm); err != nil {
			fmt.Printf("Waterfall render failed: %v\n", err)
		}
	}
}

// sampleLatency draws a lognormal service time in nanoseconds centered
// near 1ms with a heavy tail.
func sampleLatency(rng *rand.Rand) uint64 {
	v := math.Exp(rng.NormFloat64()*0.5 + math.Log(1e6))
	if v < 1 {
		v = 1
	}
	return uint64(v)
}

// printComparison puts the heatmap's window percentiles next to the HDR
// reference for the same observations.
func printComparison(hm *heatmap.Heatmap, reference *hdrhistogram.Histogram) {
	ps := []float64{50.0, 90.0, 99.0, 99.9, 99.99}

	snap := hm.Summary().Snapshot()
	fmt.Printf("\nObservations: %s tracked, %s dropped\n",
		humanize.Comma(int64(snap.Total())), humanize.Comma(int64(hm.Dropped())))

	buckets, err := snap.Percentiles(ps...)
	if err != nil {
		fmt.Printf("Percentile report failed: %v\n", err)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Percentile", "Heatmap", "HDR Reference", "Delta"})
	for i, p := range ps {
		hmValue := time.Duration(buckets[i].Midpoint())
		refValue := time.Duration(reference.ValueAtQuantile(p))
		delta := "-"
		if refValue > 0 {
			diff := float64(hmValue-refValue) / float64(refValue) * 100
			delta = fmt.Sprintf("%+.2f%%", diff)
		}
		table.Append([]string{
			fmt.Sprintf("p%g", p),
			hmValue.String(),
			refValue.String(),
			delta,
		})
	}
	table.Render()
}

// printReport renders a merged cluster report as a table.
func printReport(rep *agent.Report) {
	names := make([]string, 0, len(rep.Metrics))
	for name := range rep.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Count", "Dropped", "p50", "p99", "p99.9"})
	for _, name := range names {
		mr := rep.Metrics[name]
		table.Append([]string{
			name,
			humanize.Comma(int64(mr.Count)),
			humanize.Comma(int64(mr.Dropped)),
			time.Duration(mr.Percentiles["p50"]).String(),
			time.Duration(mr.Percentiles["p99"]).String(),
			time.Duration(mr.Percentiles["p99.9"]).String(),
		})
	}
	table.Render()
}
