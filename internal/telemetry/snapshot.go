// Package telemetry implements the per-vehicle odometry sampling core: a
// tick-driven loop that integrates traveled distance, detects speed limit
// violation episodes, and emits rate-limited telemetry snapshots to a
// transport. The package is deliberately free of goroutines and locks; the
// caller owns the tick loop and is the sole writer.
package telemetry

import "time"

// Position is a 2D map position in metres.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Snapshot is a single instantaneous telemetry record. It is rebuilt from
// scratch every tick; the most recent instance is retained for introspection
// until the next tick overwrites it.
type Snapshot struct {
	VehicleID     string  `json:"vehicle_id"`
	SimTime       float64 `json:"sim_time_s"`
	SpeedMPS      float64 `json:"speed_mps"`
	SteeringFront float64 `json:"steering_front_rad"`
	// SteeringBack is carried for wire compatibility; current vehicle
	// models have no rear steering, so it is always zero.
	SteeringBack float64 `json:"steering_back_rad"`
}

// VehicleState is the instantaneous kinematic state supplied by the vehicle
// provider on each tick. The sampler reads it and does not retain it.
type VehicleState struct {
	Position      Position
	SpeedMPS      float64
	SteeringFront float64
}

// SpeedLimit identifies the zone speed limit applying at the vehicle's
// current position. Providers return nil when no limit context is available
// (off-route, missing lane data).
type SpeedLimit struct {
	Zone     string  `json:"zone"`
	LimitMPS float64 `json:"limit_mps"`
}

// Transport is the publish channel for telemetry snapshots. Publish is
// fire-and-forget; the sampler never blocks on or retries a publish.
type Transport interface {
	Connected() bool
	Publish(Snapshot)
}

// EventSink accepts summarized violation events. Sinks are assumed always
// available and non-blocking; persistence failures are the sink's problem.
type EventSink interface {
	Record(ViolationEvent)
}

type multiSink []EventSink

func (m multiSink) Record(ev ViolationEvent) {
	for _, sink := range m {
		sink.Record(ev)
	}
}

// MultiSink fans one event out to several sinks in order. Nil sinks are
// skipped.
func MultiSink(sinks ...EventSink) EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

// Status is the read-only introspection view of a sampler.
type Status struct {
	VehicleID string `json:"vehicle_id"`
	// HasSnapshot is false until the first tick has run; the remaining
	// snapshot fields are meaningless in that case.
	HasSnapshot bool      `json:"has_snapshot"`
	Snapshot    Snapshot  `json:"snapshot"`
	Distance    float64   `json:"distance"`
	Unit        string    `json:"distance_unit"`
	StartPos    *Position `json:"start_position,omitempty"`
	Violations  int       `json:"violations_total"`
	// Violating reports whether an episode is open right now, with the
	// duration accumulated so far.
	Violating         bool    `json:"violating"`
	ViolationDuration float64 `json:"violation_duration_s,omitempty"`
}

// Tick carries the externally supplied inputs for one simulation step.
// Delta is the tick's own delta-time in seconds; duration accumulation uses
// it exclusively so behavior stays correct under variable or paused
// simulation stepping.
type Tick struct {
	SimTime float64
	Delta   float64
	Wall    time.Time
	State   VehicleState
	Limit   *SpeedLimit
}
