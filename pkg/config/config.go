package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration for an agent run.
type Config struct {
	Listen  string   `yaml:"listen"` // host:port for the HTTP endpoint
	Peers   []string `yaml:"peers,omitempty"`
	Metrics []Metric `yaml:"metrics"`
	Loadgen Loadgen  `yaml:"loadgen"`
}

// Metric defines one tracked distribution.
type Metric struct {
	Name          string        `yaml:"name"`
	GroupingPower uint8         `yaml:"grouping_power"`  // buckets per power of two: 2^g
	MaxValuePower uint8         `yaml:"max_value_power"` // largest trackable value: 2^m - 1
	Resolution    time.Duration `yaml:"resolution"`      // width of one time slice
	Span          int           `yaml:"span"`            // slices kept in the window
}

// Loadgen configures the synthetic traffic generator.
type Loadgen struct {
	Rate     uint64        `yaml:"rate"` // requests per second
	Burst    uint64        `yaml:"burst,omitempty"`
	Duration time.Duration `yaml:"duration"`
	Workers  int           `yaml:"workers"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// Set defaults
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:9091"
	}
	if len(cfg.Metrics) == 0 {
		cfg.Metrics = []Metric{{Name: "latency"}}
	}
	for i := range cfg.Metrics {
		m := &cfg.Metrics[i]
		if m.Name == "" {
			return nil, fmt.Errorf("config: metric %d has no name", i)
		}
		if m.GroupingPower == 0 {
			m.GroupingPower = 7
		}
		if m.MaxValuePower == 0 {
			m.MaxValuePower = 64
		}
		if m.Resolution == 0 {
			m.Resolution = 1 * time.Second
		}
		if m.Span == 0 {
			m.Span = 60
		}
	}

	if cfg.Loadgen.Rate == 0 {
		cfg.Loadgen.Rate = 1000
	}
	if cfg.Loadgen.Burst == 0 {
		cfg.Loadgen.Burst = cfg.Loadgen.Rate / 10
		if cfg.Loadgen.Burst == 0 {
			cfg.Loadgen.Burst = 1
		}
	}
	if cfg.Loadgen.Duration == 0 {
		cfg.Loadgen.Duration = 10 * time.Second
	}
	if cfg.Loadgen.Workers == 0 {
		cfg.Loadgen.Workers = 4
	}
	return &cfg, nil
}
