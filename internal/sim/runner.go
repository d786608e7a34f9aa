package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roadsim/odotelem/internal/telemetry"
	"github.com/roadsim/odotelem/internal/units"
)

// RunnerConfig carries the runner's construction parameters.
type RunnerConfig struct {
	// PublishHz is the initial snapshot publish frequency for every
	// vehicle; must be > 0.
	PublishHz    float64
	DistanceUnit string
	// Sink receives closed violation events in addition to the runner's
	// own subscriber broadcast. May be nil.
	Sink   telemetry.EventSink
	Logger *slog.Logger
}

// Runner drives the simulation tick loop, owns one sampler per vehicle,
// caches the latest telemetry for introspection, and fans published
// snapshots and violation events out to subscribers.
//
// The tick loop is the sole writer of simulation and sampler state;
// introspection readers go through the runner's lock and may observe a
// snapshot that is one tick stale.
type Runner struct {
	scenario Scenario
	dt       float64
	interval time.Duration
	logger   *slog.Logger

	mu       sync.RWMutex
	vehicles map[string]*vehicleSim
	samplers map[string]*telemetry.Sampler
	simTime  float64
	epoch    time.Time
	complete bool

	subMu     sync.Mutex
	snapSubs  map[string]map[*subscriber[telemetry.Snapshot]]struct{}
	eventSubs map[string]map[*subscriber[telemetry.ViolationEvent]]struct{}

	closeOnce sync.Once
}

// NewRunner builds the route, vehicles, and samplers from a validated
// scenario.
func NewRunner(scenario Scenario, cfg RunnerConfig) (*Runner, error) {
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	route, err := NewRoute(scenario.Route)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		scenario:  scenario,
		dt:        scenario.Meta.TimeStep,
		interval:  time.Duration(scenario.Meta.TimeStep * float64(time.Second)),
		logger:    logger.With("component", "sim_runner"),
		vehicles:  make(map[string]*vehicleSim, len(scenario.Vehicles)),
		samplers:  make(map[string]*telemetry.Sampler, len(scenario.Vehicles)),
		snapSubs:  make(map[string]map[*subscriber[telemetry.Snapshot]]struct{}),
		eventSubs: make(map[string]map[*subscriber[telemetry.ViolationEvent]]struct{}),
	}

	for _, spec := range scenario.Vehicles {
		sampler, err := telemetry.NewSampler(telemetry.SamplerConfig{
			VehicleID: spec.ID,
			PublishHz: cfg.PublishHz,
			Unit:      cfg.DistanceUnit,
			Scale:     units.DistanceScale(cfg.DistanceUnit),
			Transport: &streamTransport{runner: r, vehicleID: spec.ID},
			Sink:      telemetry.MultiSink(cfg.Sink, &broadcastSink{runner: r}),
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("sampler %q: %w", spec.ID, err)
		}
		r.vehicles[spec.ID] = newVehicleSim(spec, route)
		r.samplers[spec.ID] = sampler
	}

	return r, nil
}

// Run paces the simulation against wall time, one tick per scenario
// time-step, until the context is canceled. The loop keeps serving
// introspection after the scenario completes.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.epoch = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Info("simulation started",
		"scenario", r.scenario.Meta.Name,
		"vehicles", len(r.vehicles),
		"time_step_s", r.dt,
		"run_time_s", r.scenario.Meta.RunTime,
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("simulation stopping", "reason", ctx.Err())
			r.close()
			return ctx.Err()
		case <-ticker.C:
			if r.step() {
				r.logger.Info("scenario complete", "sim_time_s", r.SimTime())
				ticker.Stop()
				<-ctx.Done()
				r.close()
				return ctx.Err()
			}
		}
	}
}

// RunSync executes the whole scenario as fast as possible without wall
// pacing. Used by the offline scenario runner.
func (r *Runner) RunSync(ctx context.Context) error {
	r.mu.Lock()
	r.epoch = time.Now().UTC()
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.close()
			return ctx.Err()
		default:
		}
		if r.step() {
			r.close()
			return nil
		}
	}
}

// step advances every vehicle and sampler by one tick. Reports whether the
// scenario has run to completion.
func (r *Runner) step() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.complete {
		return true
	}

	now := r.simTime + r.dt
	wall := r.epoch.Add(time.Duration(now * float64(time.Second)))
	for id, vehicle := range r.vehicles {
		state := vehicle.step(r.dt)
		r.samplers[id].Update(telemetry.Tick{
			SimTime: now,
			Delta:   r.dt,
			Wall:    wall,
			State:   state,
			Limit:   vehicle.limit(),
		})
	}
	r.simTime = now
	if r.simTime >= r.scenario.Meta.RunTime {
		r.complete = true
	}
	return r.complete
}

// Status returns the introspection view for one vehicle.
func (r *Runner) Status(vehicleID string) (telemetry.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sampler, ok := r.samplers[vehicleID]
	if !ok {
		return telemetry.Status{}, false
	}
	return sampler.Status(), true
}

// VehicleIDs returns the managed vehicle ids in stable order.
func (r *Runner) VehicleIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.samplers))
	for id := range r.samplers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Ready reports whether every sampler has produced at least one snapshot.
func (r *Runner) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sampler := range r.samplers {
		if !sampler.Status().HasSnapshot {
			return false
		}
	}
	return true
}

// SimTime returns the current simulated time in seconds.
func (r *Runner) SimTime() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.simTime
}

// Completed reports whether the scenario has run to its configured end.
func (r *Runner) Completed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.complete
}

// TimeStep returns the per-tick delta-time in seconds.
func (r *Runner) TimeStep() float64 {
	return r.dt
}

// SetPublishFrequency reconfigures one vehicle's snapshot publish rate.
func (r *Runner) SetPublishFrequency(vehicleID string, hz float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sampler, ok := r.samplers[vehicleID]
	if !ok {
		return fmt.Errorf("unknown vehicle %q", vehicleID)
	}
	return sampler.SetPublishFrequency(hz)
}

// PublishFrequency returns one vehicle's configured publish rate.
func (r *Runner) PublishFrequency(vehicleID string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sampler, ok := r.samplers[vehicleID]
	if !ok {
		return 0, fmt.Errorf("unknown vehicle %q", vehicleID)
	}
	return sampler.PublishFrequency(), nil
}

// Subscribe registers a listener for the vehicle's published snapshots.
// Publishing is fire-and-forget: a slow consumer loses the oldest update.
func (r *Runner) Subscribe(vehicleID string) (<-chan telemetry.Snapshot, func(), error) {
	if _, ok := r.samplers[vehicleID]; !ok {
		return nil, nil, fmt.Errorf("unknown vehicle %q", vehicleID)
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	sub := newSubscriber[telemetry.Snapshot](1)
	if _, ok := r.snapSubs[vehicleID]; !ok {
		r.snapSubs[vehicleID] = make(map[*subscriber[telemetry.Snapshot]]struct{})
	}
	r.snapSubs[vehicleID][sub] = struct{}{}

	unsubscribe := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if subs, ok := r.snapSubs[vehicleID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(r.snapSubs, vehicleID)
			}
		}
		sub.close()
	}
	return sub.channel(), unsubscribe, nil
}

// SubscribeViolations registers a listener for the vehicle's violation
// events.
func (r *Runner) SubscribeViolations(vehicleID string) (<-chan telemetry.ViolationEvent, func(), error) {
	if _, ok := r.samplers[vehicleID]; !ok {
		return nil, nil, fmt.Errorf("unknown vehicle %q", vehicleID)
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	sub := newSubscriber[telemetry.ViolationEvent](4)
	if _, ok := r.eventSubs[vehicleID]; !ok {
		r.eventSubs[vehicleID] = make(map[*subscriber[telemetry.ViolationEvent]]struct{})
	}
	r.eventSubs[vehicleID][sub] = struct{}{}

	unsubscribe := func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if subs, ok := r.eventSubs[vehicleID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(r.eventSubs, vehicleID)
			}
		}
		sub.close()
	}
	return sub.channel(), unsubscribe, nil
}

func (r *Runner) hasSubscribers(vehicleID string) bool {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return len(r.snapSubs[vehicleID]) > 0
}

func (r *Runner) broadcastSnapshot(vehicleID string, snap telemetry.Snapshot) {
	r.subMu.Lock()
	targets := make([]*subscriber[telemetry.Snapshot], 0, len(r.snapSubs[vehicleID]))
	for sub := range r.snapSubs[vehicleID] {
		targets = append(targets, sub)
	}
	r.subMu.Unlock()

	for _, sub := range targets {
		sub.send(snap)
	}
}

func (r *Runner) broadcastEvent(ev telemetry.ViolationEvent) {
	r.subMu.Lock()
	targets := make([]*subscriber[telemetry.ViolationEvent], 0, len(r.eventSubs[ev.VehicleID]))
	for sub := range r.eventSubs[ev.VehicleID] {
		targets = append(targets, sub)
	}
	r.subMu.Unlock()

	for _, sub := range targets {
		sub.send(ev)
	}
}

// close shuts all subscriber channels. Safe for repeated use.
func (r *Runner) close() {
	r.closeOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, subs := range r.snapSubs {
			for sub := range subs {
				sub.close()
			}
		}
		for _, subs := range r.eventSubs {
			for sub := range subs {
				sub.close()
			}
		}
		r.snapSubs = make(map[string]map[*subscriber[telemetry.Snapshot]]struct{})
		r.eventSubs = make(map[string]map[*subscriber[telemetry.ViolationEvent]]struct{})
	})
}

// streamTransport adapts the runner's subscriber fan-out to the sampler's
// Transport contract: the transport is connected iff at least one snapshot
// subscriber is attached to the vehicle's stream.
type streamTransport struct {
	runner    *Runner
	vehicleID string
}

func (t *streamTransport) Connected() bool {
	return t.runner.hasSubscribers(t.vehicleID)
}

func (t *streamTransport) Publish(snap telemetry.Snapshot) {
	t.runner.broadcastSnapshot(t.vehicleID, snap)
}

// broadcastSink forwards closed violation events to event subscribers.
type broadcastSink struct {
	runner *Runner
}

func (s *broadcastSink) Record(ev telemetry.ViolationEvent) {
	s.runner.broadcastEvent(ev)
}

// subscriber is a bounded, drop-oldest update queue.
type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

func newSubscriber[T any](size int) *subscriber[T] {
	if size <= 0 {
		size = 1
	}
	return &subscriber[T]{ch: make(chan T, size)}
}

func (s *subscriber[T]) channel() <-chan T {
	return s.ch
}

func (s *subscriber[T]) send(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- value:
		return
	default:
	}
	// Drop oldest to make room for the new update.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- value:
	default:
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
