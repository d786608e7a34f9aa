package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/roadsim/odotelem/internal/eventstore"
	"github.com/roadsim/odotelem/internal/sim"
	"github.com/roadsim/odotelem/internal/telemetry"
	"github.com/roadsim/odotelem/internal/units"
)

type options struct {
	scenarioPath string
	databasePath string
	publishHz    float64
	distanceUnit string
	jsonOutput   bool
}

func parseFlags() options {
	defaultScenario := envOrDefault("ODO_SCENARIO_PATH", "scenarios/default.json")
	defaultDatabase := envOrDefault("ODO_DATABASE_PATH", "")

	var opts options
	flag.StringVar(&opts.scenarioPath, "scenario", defaultScenario, "Path to scenario JSON file")
	flag.StringVar(&opts.databasePath, "db", defaultDatabase, "Persist violation events to this SQLite database")
	flag.Float64Var(&opts.publishHz, "publish-hz", 10, "Snapshot publish frequency in Hz")
	flag.StringVar(&opts.distanceUnit, "units", units.Metres, "Distance unit for reported totals (m, km, mi)")
	flag.BoolVar(&opts.jsonOutput, "json", false, "Emit run results as JSON")
	flag.Parse()
	return opts
}

// collectingSink buffers violation events for the end-of-run report.
type collectingSink struct {
	mu     sync.Mutex
	events []telemetry.ViolationEvent
}

func (c *collectingSink) Record(ev telemetry.ViolationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collectingSink) all() []telemetry.ViolationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]telemetry.ViolationEvent(nil), c.events...)
}

type runReport struct {
	Scenario   string                     `json:"scenario"`
	SimTime    float64                    `json:"sim_time_s"`
	Vehicles   []telemetry.Status         `json:"vehicles"`
	Violations []telemetry.ViolationEvent `json:"violations"`
}

func main() {
	opts := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if !units.IsValidDistanceUnit(opts.distanceUnit) {
		logger.Error("unsupported distance unit", "unit", opts.distanceUnit)
		os.Exit(1)
	}

	scenario, err := sim.LoadScenario(opts.scenarioPath)
	if err != nil {
		logger.Error("failed to load scenario", "path", opts.scenarioPath, "err", err)
		os.Exit(1)
	}

	collector := &collectingSink{}
	sink := telemetry.EventSink(collector)
	if opts.databasePath != "" {
		store, err := eventstore.Open(opts.databasePath, logger)
		if err != nil {
			logger.Error("failed to open event store", "path", opts.databasePath, "err", err)
			os.Exit(1)
		}
		defer store.Close()
		sink = telemetry.MultiSink(collector, store)
	}

	runner, err := sim.NewRunner(scenario, sim.RunnerConfig{
		PublishHz:    opts.publishHz,
		DistanceUnit: opts.distanceUnit,
		Sink:         sink,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to build runner", "err", err)
		os.Exit(1)
	}

	if err := runner.RunSync(context.Background()); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}

	report := runReport{
		Scenario:   scenario.Meta.Name,
		SimTime:    runner.SimTime(),
		Violations: collector.all(),
	}
	for _, id := range runner.VehicleIDs() {
		if status, ok := runner.Status(id); ok {
			report.Vehicles = append(report.Vehicles, status)
		}
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Error("encode run report", "err", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Scenario %q complete after %.2fs simulated\n", report.Scenario, report.SimTime)
	fmt.Println(strings.Repeat("-", 60))
	for _, status := range report.Vehicles {
		fmt.Printf("- %s: distance %.3f %s, violations %d\n",
			status.VehicleID, status.Distance, status.Unit, status.Violations)
	}
	if len(report.Violations) == 0 {
		fmt.Println("No speed violations recorded")
		return
	}
	fmt.Println()
	fmt.Println("Violations:")
	for _, ev := range report.Violations {
		fmt.Printf("- %s in %q [%s]: %.2fs over %.1f m/s limit, peak %.1f m/s (sim %.2fs-%.2fs)\n",
			ev.VehicleID, ev.Zone, ev.Severity, ev.Duration, ev.LimitMPS, ev.MaxSpeedMPS, ev.SimStart, ev.SimEnd)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
