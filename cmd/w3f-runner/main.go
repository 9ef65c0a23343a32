// Command w3f-runner is a minimal CLI smoke entrypoint for the supervisor:
// it loads a run configuration and a payload from disk, runs one
// supervised execution, and prints the resulting ExecutionReport as JSON.
// CLI ergonomics (bundle fetch, wallet auth, flag parsing beyond the
// bare minimum) are out of scope per spec.md's Non-goals — this exists
// only to exercise runner.Supervisor end to end.
//
// Bootstrap idiom (env/flag-driven configuration, log.Fatalf on setup
// failure) is adapted from cmd/marble/main.go's generic entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/w3f-runner/internal/config"
	"github.com/R3E-Network/w3f-runner/internal/logging"
	"github.com/R3E-Network/w3f-runner/internal/metrics"
	"github.com/R3E-Network/w3f-runner/runner"
	"github.com/R3E-Network/w3f-runner/types"
)

func main() {
	configPath := flag.String("config", "", "path to a runner.yaml config file (defaults to DefaultRunConfig)")
	payloadPath := flag.String("payload", "", "path to a JSON-encoded types.Payload (script path, context, schema)")
	enableMetrics := flag.Bool("metrics", false, "register a Prometheus registry and report its state after the run")
	flag.Parse()

	if *payloadPath == "" {
		log.Fatal("w3f-runner: -payload is required")
	}

	var cfg *config.RunConfig
	if *configPath != "" {
		c, err := config.LoadRunConfigFromPath(*configPath)
		if err != nil {
			log.Fatalf("w3f-runner: load config: %v", err)
		}
		cfg = c
	} else {
		cfg = config.DefaultRunConfig()
	}

	payloadBytes, err := os.ReadFile(*payloadPath)
	if err != nil {
		log.Fatalf("w3f-runner: read payload: %v", err)
	}
	var payload types.Payload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		log.Fatalf("w3f-runner: decode payload: %v", err)
	}
	if payload.Options.Timeout == 0 {
		payload.Options = cfg.Options
	}
	if payload.Providers == nil {
		payload.Providers = cfg.Providers
	}

	var recorder *metrics.Recorder
	if *enableMetrics {
		recorder = metrics.New(prometheus.NewRegistry())
	}

	sup := runner.NewSupervisor(logging.New("w3f-runner"), recorder)

	ctx, cancel := context.WithTimeout(context.Background(), payload.Options.Timeout+10*time.Second)
	defer cancel()

	report, err := sup.Run(ctx, payload)
	if err != nil {
		log.Fatalf("w3f-runner: run failed before a report could be produced: %v", err)
	}

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("w3f-runner: encode report: %v", err)
	}
	os.Stdout.Write(encoded)
	os.Stdout.Write([]byte("\n"))
}
