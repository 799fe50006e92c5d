// Package metrics holds the process-wide registry of counters, gauges and
// heatmaps. Counters and gauges are created on first use; heatmaps are
// registered explicitly because they carry configuration. The registry also
// drives heatmap maintenance through TickAll.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/heatmap"
)

// Counter is a monotonically increasing value.
type Counter struct {
	v atomic.Uint64
}

// Add increases the counter by delta.
func (c *Counter) Add(delta uint64) { c.v.Add(delta) }

// Increment increases the counter by one.
func (c *Counter) Increment() { c.v.Add(1) }

// Value returns the current count.
func (c *Counter) Value() uint64 { return c.v.Load() }

// Gauge is a value that can move in both directions.
type Gauge struct {
	v atomic.Int64
}

// Set replaces the gauge value.
func (g *Gauge) Set(v int64) { g.v.Store(v) }

// Add moves the gauge by delta, which may be negative.
func (g *Gauge) Add(delta int64) { g.v.Add(delta) }

// Value returns the current gauge reading.
func (g *Gauge) Value() int64 { return g.v.Load() }

// Registry is a named collection of metrics. All methods are safe for
// concurrent use. The zero value is not usable; call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	heatmaps map[string]*heatmap.Heatmap
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		heatmaps: make(map[string]*heatmap.Heatmap),
	}
}

// Counter returns the counter with the given name, creating it on first
// use.
func (r *Registry) Counter(name string) *Counter {
	r.mu.RLock()
	c, ok := r.counters[name]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c = &Counter{}
	r.counters[name] = c
	return c
}

// Gauge returns the gauge with the given name, creating it on first use.
func (r *Registry) Gauge(name string) *Gauge {
	r.mu.RLock()
	g, ok := r.gauges[name]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g = &Gauge{}
	r.gauges[name] = g
	return g
}

// RegisterHeatmap adds a heatmap under the given name. Unlike counters and
// gauges, heatmaps carry construction parameters, so a duplicate name is an
// error rather than a silent get-or-create.
func (r *Registry) RegisterHeatmap(name string, hm *heatmap.Heatmap) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.heatmaps[name]; ok {
		return fmt.Errorf("metrics: heatmap %q already registered", name)
	}
	r.heatmaps[name] = hm
	return nil
}

// RegisterDynamicHeatmap registers a heatmap under a name suffixed with a
// random id, for short-lived series such as per-session tracking. It
// returns the full name for later Deregister.
func (r *Registry) RegisterDynamicHeatmap(prefix string, hm *heatmap.Heatmap) string {
	name := prefix + "/" + uuid.NewString()
	r.mu.Lock()
	r.heatmaps[name] = hm
	r.mu.Unlock()
	return name
}

// Deregister removes a heatmap by name, reporting whether it existed.
func (r *Registry) Deregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.heatmaps[name]; !ok {
		return false
	}
	delete(r.heatmaps, name)
	return true
}

// Heatmap returns the heatmap registered under name, or nil.
func (r *Registry) Heatmap(name string) *heatmap.Heatmap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.heatmaps[name]
}

// TickAll advances every registered heatmap to now. Called from a single
// maintenance loop so readers see windows move together.
func (r *Registry) TickAll(now clock.Instant) {
	r.mu.RLock()
	hms := make([]*heatmap.Heatmap, 0, len(r.heatmaps))
	for _, hm := range r.heatmaps {
		hms = append(hms, hm)
	}
	r.mu.RUnlock()

	for _, hm := range hms {
		hm.Tick(now)
	}
}

// EachCounter calls fn for every counter in name order.
func (r *Registry) EachCounter(fn func(name string, c *Counter)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.counters))
	for name := range r.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	counters := make([]*Counter, len(names))
	for i, name := range names {
		counters[i] = r.counters[name]
	}
	r.mu.RUnlock()

	for i, name := range names {
		fn(name, counters[i])
	}
}

// EachGauge calls fn for every gauge in name order.
func (r *Registry) EachGauge(fn func(name string, g *Gauge)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.gauges))
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	gauges := make([]*Gauge, len(names))
	for i, name := range names {
		gauges[i] = r.gauges[name]
	}
	r.mu.RUnlock()

	for i, name := range names {
		fn(name, gauges[i])
	}
}

// EachHeatmap calls fn for every heatmap in name order.
func (r *Registry) EachHeatmap(fn func(name string, hm *heatmap.Heatmap)) {
	r.mu.RLock()
	names := make([]string, 0, len(r.heatmaps))
	for name := range r.heatmaps {
		names = append(names, name)
	}
	sort.Strings(names)
	hms := make([]*heatmap.Heatmap, len(names))
	for i, name := range names {
		hms[i] = r.heatmaps[name]
	}
	r.mu.RUnlock()

	for i, name := range names {
		fn(name, hms[i])
	}
}
