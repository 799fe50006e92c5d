package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(write(t, "{}"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != "127.0.0.1:9091" {
		t.Errorf("listen default = %q", cfg.Listen)
	}
	if len(cfg.Metrics) != 1 || cfg.Metrics[0].Name != "latency" {
		t.Fatalf("expected a default latency metric, got %+v", cfg.Metrics)
	}
	m := cfg.Metrics[0]
	if m.GroupingPower != 7 || m.MaxValuePower != 64 {
		t.Errorf("precision defaults = (%d, %d)", m.GroupingPower, m.MaxValuePower)
	}
	if m.Resolution != time.Second || m.Span != 60 {
		t.Errorf("window defaults = (%v, %d)", m.Resolution, m.Span)
	}
	if cfg.Loadgen.Rate != 1000 || cfg.Loadgen.Burst != 100 || cfg.Loadgen.Workers != 4 {
		t.Errorf("loadgen defaults = %+v", cfg.Loadgen)
	}
}

func TestLoadFull(t *testing.T) {
	cfg, err := Load(write(t, `
listen: 0.0.0.0:8080
peers:
  - host-a:9091
  - host-b:9091
metrics:
  - name: request_latency
    grouping_power: 4
    max_value_power: 32
    resolution: 250ms
    span: 240
loadgen:
  rate: 50000
  burst: 500
  duration: 1m
  workers: 8
`))
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Peers) != 2 || cfg.Peers[1] != "host-b:9091" {
		t.Errorf("peers = %v", cfg.Peers)
	}
	m := cfg.Metrics[0]
	if m.Name != "request_latency" || m.GroupingPower != 4 || m.MaxValuePower != 32 {
		t.Errorf("metric = %+v", m)
	}
	if m.Resolution != 250*time.Millisecond || m.Span != 240 {
		t.Errorf("window = (%v, %d)", m.Resolution, m.Span)
	}
	if cfg.Loadgen.Rate != 50000 || cfg.Loadgen.Duration != time.Minute {
		t.Errorf("loadgen = %+v", cfg.Loadgen)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := Load(write(t, "metrics: {not: a list}")); err == nil {
		t.Error("expected an error for malformed yaml")
	}
	if _, err := Load(write(t, "metrics:\n  - grouping_power: 2\n")); err == nil {
		t.Error("expected an error for a nameless metric")
	}
}
