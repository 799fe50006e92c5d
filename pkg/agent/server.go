// Package agent exposes a registry of heatmaps over HTTP: percentile
// reports as JSON, a prometheus scrape endpoint, and waterfall PNGs. It
// also owns the maintenance loop that rotates every heatmap's window.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarterwave/heatring/pkg/clock"
	"github.com/quarterwave/heatring/pkg/config"
	"github.com/quarterwave/heatring/pkg/heatmap"
	"github.com/quarterwave/heatring/pkg/metrics"
	"github.com/quarterwave/heatring/pkg/timerwheel"
	"github.com/quarterwave/heatring/pkg/waterfall"
)

// reportPercentiles are the points included in every JSON report.
var reportPercentiles = []float64{50.0, 90.0, 95.0, 99.0, 99.9}

// MetricReport is one heatmap's view in a percentile report. Percentile
// values are bucket midpoints keyed as "p50", "p99.9" and so on.
type MetricReport struct {
	Count       uint64            `json:"count"`
	Dropped     uint64            `json:"dropped"`
	Percentiles map[string]uint64 `json:"percentiles,omitempty"`
}

// Report is the full percentile report served at /percentiles.
type Report struct {
	Node    string                  `json:"node"`
	Metrics map[string]MetricReport `json:"metrics"`
}

// Server hosts the HTTP endpoint and the rotation loop.
type Server struct {
	cfg      *config.Config
	registry *metrics.Registry
	logger   log.Logger
	router   *mux.Router
	httpSrv  *http.Server

	wheel *timerwheel.Wheel
	stop  chan struct{}
	done  chan struct{}
}

// NewServer builds a server for the configured metrics. Each metric gets a
// heatmap registered under its name; rotation granularity follows the
// finest configured resolution.
func NewServer(cfg *config.Config, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	registry := metrics.NewRegistry()

	finest := time.Duration(0)
	for _, m := range cfg.Metrics {
		hm, err := heatmap.New(m.GroupingPower, m.MaxValuePower, m.Resolution, m.Span)
		if err != nil {
			return nil, err
		}
		if err := registry.RegisterHeatmap(m.Name, hm); err != nil {
			return nil, err
		}
		if finest == 0 || m.Resolution < finest {
			finest = m.Resolution
		}
	}

	// rotate at a quarter of the finest resolution so slice boundaries
	// land within a tick of their due time
	granularity := finest / 4
	if granularity < time.Millisecond {
		granularity = time.Millisecond
	}
	wheel, err := timerwheel.New(granularity, 64, clock.Now())
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		wheel:    wheel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.routes()
	return s, nil
}

// Registry returns the server's metric registry so callers can feed
// observations in.
func (s *Server) Registry() *metrics.Registry { return s.registry }

// Handler returns the HTTP handler, for mounting in tests or an existing
// server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewCollector(s.registry))

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/percentiles", s.handlePercentiles).Methods(http.MethodGet)
	r.HandleFunc("/percentiles/{name}", s.handleMetricPercentiles).Methods(http.MethodGet)
	r.HandleFunc("/waterfall/{name}.png", s.handleWaterfall).Methods(http.MethodGet)
	s.router = r
}

// Start begins serving and rotating. It returns once the listener is
// handed off; use Shutdown to stop.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.router,
	}

	// the rotation task reschedules itself each time it fires
	var rotate func()
	rotate = func() {
		s.registry.TickAll(clock.Now())
		s.wheel.Schedule(s.wheel.Tick(), rotate)
	}
	s.wheel.Schedule(s.wheel.Tick(), rotate)

	go s.maintain()

	level.Info(s.logger).Log("msg", "agent listening", "addr", s.cfg.Listen)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(s.logger).Log("msg", "http server failed", "err", err)
		}
	}()
	return nil
}

// maintain drives the timer wheel until Shutdown.
func (s *Server) maintain() {
	defer close(s.done)
	ticker := time.NewTicker(s.wheel.Tick())
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.wheel.Advance(clock.Now())
		}
	}
}

// Shutdown stops the rotation loop and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	<-s.done
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// report builds the percentile report for every registered heatmap.
func (s *Server) report() Report {
	rep := Report{
		Node:    s.cfg.Listen,
		Metrics: make(map[string]MetricReport),
	}
	s.registry.EachHeatmap(func(name string, hm *heatmap.Heatmap) {
		rep.Metrics[name] = metricReport(hm)
	})
	return rep
}

func metricReport(hm *heatmap.Heatmap) MetricReport {
	snap := hm.Summary().Snapshot()
	mr := MetricReport{
		Count:   snap.Total(),
		Dropped: hm.Dropped(),
	}
	if snap.Total() == 0 {
		return mr
	}
	buckets, err := snap.Percentiles(reportPercentiles...)
	if err != nil {
		return mr
	}
	mr.Percentiles = make(map[string]uint64, len(buckets))
	for i, p := range reportPercentiles {
		mr.Percentiles[percentileKey(p)] = buckets[i].Midpoint()
	}
	return mr
}

// percentileKey prints 50 as "p50" and 99.9 as "p99.9".
func percentileKey(p float64) string {
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}

func (s *Server) handlePercentiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.report())
}

func (s *Server) handleMetricPercentiles(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hm := s.registry.Heatmap(name)
	if hm == nil {
		http.Error(w, "unknown metric: "+name, http.StatusNotFound)
		return
	}
	s.writeJSON(w, metricReport(hm))
}

func (s *Server) handleWaterfall(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	hm := s.registry.Heatmap(name)
	if hm == nil {
		http.Error(w, "unknown metric: "+name, http.StatusNotFound)
		return
	}

	b := waterfall.New()
	if r.URL.Query().Get("palette") == "ironbow" {
		b.Palette(waterfall.Ironbow())
	}
	if r.URL.Query().Get("scale") == "linear" {
		b.Scale(waterfall.Linear)
	}

	w.Header().Set("Content-Type", "image/png")
	if err := b.WritePNG(w, hm); err != nil {
		level.Error(s.logger).Log("msg", "waterfall render failed", "metric", name, "err", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		level.Error(s.logger).Log("msg", "failed to encode response", "err", err)
	}
}
