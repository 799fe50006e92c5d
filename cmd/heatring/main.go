package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/quarterwave/heatring/pkg/agent"
	"github.com/quarterwave/heatring/pkg/config"
)

func main() {
	// Dispatch subcommands
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "agent":
			runAgentCmd()
			return
		case "loadgen":
			runLoadgenCmd()
			return
		case "report":
			runReportCmd()
			return
		}
	}

	fmt.Println("Usage: heatring <agent|loadgen|report> [flags]")
	os.Exit(1)
}

func newLogger() log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

// loadConfig reads the config file when given, otherwise returns defaults
// built from the flags.
func loadConfig(path, listen string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := &config.Config{
		Listen: listen,
		Metrics: []config.Metric{
			{Name: "latency", GroupingPower: 7, MaxValuePower: 64, Resolution: time.Second, Span: 60},
		},
		Loadgen: config.Loadgen{Rate: 1000, Burst: 100, Duration: 10 * time.Second, Workers: 4},
	}
	return cfg, nil
}

// runAgentCmd handles "heatring agent [flags]"
func runAgentCmd() {
	fs := flag.NewFlagSet("agent", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to configuration file")
	listen := fs.String("listen", "127.0.0.1:9091", "host:port to listen on (ignored with -config)")
	fs.Parse(os.Args[2:])

	logger := newLogger()

	cfg, err := loadConfig(*configFile, *listen)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	srv, err := agent.NewServer(cfg, logger)
	if err != nil {
		fmt.Printf("Agent startup error: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		fmt.Printf("Agent failed: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	level.Info(logger).Log("msg", "shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		level.Error(logger).Log("msg", "shutdown failed", "err", err)
		os.Exit(1)
	}
}

// runReportCmd handles "heatring report [flags]": fetch and merge
// percentile reports from a set of agents.
func runReportCmd() {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	nodesFlag := fs.String("nodes", "", "Comma-separated list of agent nodes (e.g. host1:9091,host2:9091)")
	fs.Parse(os.Args[2:])

	if *nodesFlag == "" {
		fmt.Println("Error: -nodes is required")
		os.Exit(1)
	}
	nodes := strings.Split(*nodesFlag, ",")

	client := agent.NewClient(nodes)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rep, err := client.Fetch(ctx)
	if err != nil {
		fmt.Printf("Report failed: %v\n", err)
		os.Exit(1)
	}
	printReport(rep)
}
