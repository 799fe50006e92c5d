package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client fans percentile queries out to a set of agent nodes and merges
// their reports into a cluster-wide view.
type Client struct {
	nodes []string
	http  *http.Client
}

// NewClient builds a client for the given host:port nodes.
func NewClient(nodes []string) *Client {
	return &Client{
		nodes: nodes,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch queries every node in parallel and returns the merged report. A
// single failing node fails the whole fetch so partial views are never
// mistaken for cluster totals.
func (c *Client) Fetch(ctx context.Context) (*Report, error) {
	var wg sync.WaitGroup
	reports := make([]*Report, len(c.nodes))
	errs := make([]error, len(c.nodes))

	for i, node := range c.nodes {
		wg.Add(1)
		go func(idx int, host string) {
			defer wg.Done()
			rep, err := c.fetchNode(ctx, host)
			reports[idx] = rep
			errs[idx] = err
		}(i, node)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("node %s failed: %w", c.nodes[i], err)
		}
	}

	return merge(reports), nil
}

func (c *Client) fetchNode(ctx context.Context, host string) (*Report, error) {
	url := fmt.Sprintf("http://%s/percentiles", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent %s error (%s): %s", host, resp.Status, string(bytes.TrimSpace(body)))
	}

	var rep Report
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// merge combines per-node reports. Counts add; percentile values are
// count-weighted averages, which approximates the cluster distribution
// without shipping full histograms.
func merge(reports []*Report) *Report {
	agg := &Report{
		Node:    "cluster",
		Metrics: make(map[string]MetricReport),
	}

	type weighted struct {
		sum    map[string]float64
		weight float64
	}
	acc := make(map[string]*weighted)

	for _, rep := range reports {
		if rep == nil {
			continue
		}
		for name, mr := range rep.Metrics {
			out := agg.Metrics[name]
			out.Count += mr.Count
			out.Dropped += mr.Dropped
			agg.Metrics[name] = out

			if len(mr.Percentiles) == 0 {
				continue
			}
			w := acc[name]
			if w == nil {
				w = &weighted{sum: make(map[string]float64)}
				acc[name] = w
			}
			weight := float64(mr.Count)
			w.weight += weight
			for key, value := range mr.Percentiles {
				w.sum[key] += float64(value) * weight
			}
		}
	}

	for name, w := range acc {
		if w.weight == 0 {
			continue
		}
		out := agg.Metrics[name]
		out.Percentiles = make(map[string]uint64, len(w.sum))
		for key, sum := range w.sum {
			out.Percentiles[key] = uint64(sum / w.weight)
		}
		agg.Metrics[name] = out
	}

	return agg
}
