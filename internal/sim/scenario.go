// Package sim hosts the deterministic tick-driven simulation that feeds the
// telemetry samplers: a JSON scenario describing a route with zone speed
// limits and per-vehicle motion phases, a constant-acceleration kinematic
// stepper, and a runner that owns one sampler per vehicle.
package sim

import (
	"encoding/json"
	"fmt"
	"os"
)

// Meta holds the identity and timing parameters of a scenario run.
type Meta struct {
	Name string `json:"name"`
	// TimeStep is the per-tick delta-time in seconds; it is the sole time
	// source for duration accumulation.
	TimeStep float64 `json:"time_step"`
	RunTime  float64 `json:"run_time"`
}

// Segment is one leg of the route. A segment with a limit carries the zone
// speed limit applying along its length; a segment without one provides no
// limit context at all.
type Segment struct {
	LengthM    float64  `json:"length_m"`
	HeadingDeg float64  `json:"heading_deg"`
	Zone       string   `json:"zone,omitempty"`
	LimitMPS   *float64 `json:"limit_mps,omitempty"`
}

// Phase is one leg of a vehicle's scripted motion: hold or approach a target
// speed for a duration while keeping a steering angle.
type Phase struct {
	DurationS      float64 `json:"duration_s"`
	TargetSpeedMPS float64 `json:"target_speed_mps"`
	SteeringRad    float64 `json:"steering_rad,omitempty"`
}

// VehicleSpec describes one simulated vehicle.
type VehicleSpec struct {
	ID        string  `json:"id"`
	Name      string  `json:"name,omitempty"`
	Plate     string  `json:"plate,omitempty"`
	AccelMPS2 float64 `json:"accel_mps2"`
	DecelMPS2 float64 `json:"decel_mps2"`
	Phases    []Phase `json:"phases"`
}

// Scenario is the JSON-serialisable simulation input.
type Scenario struct {
	Meta     Meta          `json:"scenario_meta"`
	Route    []Segment     `json:"route"`
	Vehicles []VehicleSpec `json:"vehicles"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario JSON.
func ParseScenario(data []byte) (Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Validate checks the scenario for structural errors. Invalid configuration
// is the one condition this system fails loudly on.
func (s Scenario) Validate() error {
	if s.Meta.TimeStep <= 0 {
		return fmt.Errorf("scenario time_step must be > 0, got %v", s.Meta.TimeStep)
	}
	if s.Meta.RunTime <= 0 {
		return fmt.Errorf("scenario run_time must be > 0, got %v", s.Meta.RunTime)
	}
	if len(s.Route) == 0 {
		return fmt.Errorf("scenario route must have at least one segment")
	}
	for i, seg := range s.Route {
		if seg.LengthM <= 0 {
			return fmt.Errorf("route segment %d: length_m must be > 0, got %v", i, seg.LengthM)
		}
		if seg.LimitMPS != nil && *seg.LimitMPS <= 0 {
			return fmt.Errorf("route segment %d: limit_mps must be > 0, got %v", i, *seg.LimitMPS)
		}
	}
	if len(s.Vehicles) == 0 {
		return fmt.Errorf("scenario must define at least one vehicle")
	}
	seen := make(map[string]struct{}, len(s.Vehicles))
	for i, v := range s.Vehicles {
		if v.ID == "" {
			return fmt.Errorf("vehicle %d: id must not be empty", i)
		}
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("duplicate vehicle id %q", v.ID)
		}
		seen[v.ID] = struct{}{}
		if v.AccelMPS2 <= 0 {
			return fmt.Errorf("vehicle %q: accel_mps2 must be > 0, got %v", v.ID, v.AccelMPS2)
		}
		if v.DecelMPS2 <= 0 {
			return fmt.Errorf("vehicle %q: decel_mps2 must be > 0, got %v", v.ID, v.DecelMPS2)
		}
		if len(v.Phases) == 0 {
			return fmt.Errorf("vehicle %q: at least one motion phase required", v.ID)
		}
		for j, phase := range v.Phases {
			if phase.DurationS <= 0 {
				return fmt.Errorf("vehicle %q phase %d: duration_s must be > 0", v.ID, j)
			}
			if phase.TargetSpeedMPS < 0 {
				return fmt.Errorf("vehicle %q phase %d: target_speed_mps must be >= 0", v.ID, j)
			}
		}
	}
	return nil
}
