package telemetry

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies a violation event by how far the observed maximum
// exceeded the limit.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	warningOvershoot  = 0.10
	criticalOvershoot = 0.25
)

func classify(limit, maxSpeed float64) Severity {
	if limit <= 0 {
		return SeverityCritical
	}
	overshoot := (maxSpeed - limit) / limit
	switch {
	case overshoot < warningOvershoot:
		return SeverityInfo
	case overshoot < criticalOvershoot:
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// ViolationEvent summarizes one closed violation episode: a maximal
// contiguous run of ticks during which speed exceeded the zone limit.
// Exactly one event is emitted per episode, on the tick the episode closes.
type ViolationEvent struct {
	ID          string   `json:"id"`
	VehicleID   string   `json:"vehicle_id"`
	Zone        string   `json:"zone"`
	LimitMPS    float64  `json:"limit_mps"`
	MaxSpeedMPS float64  `json:"max_speed_mps"`
	MinSpeedMPS float64  `json:"min_speed_mps"`
	Duration    float64  `json:"duration_s"`
	SimStart    float64  `json:"sim_start_s"`
	SimEnd      float64  `json:"sim_end_s"`
	// WallStart/WallEnd map the episode onto session wall-clock time for
	// downstream consumers that do not track simulated time.
	WallStart time.Time `json:"wall_start"`
	WallEnd   time.Time `json:"wall_end"`
	Location  Position  `json:"location"`
	Severity  Severity  `json:"severity"`
}

// episode is the transient per-violation aggregate. It exists iff the
// previous tick was in violation; closing the episode destroys it.
type episode struct {
	zone      string
	limit     float64
	simStart  float64
	wallStart time.Time
	duration  float64
	minSpeed  float64
	maxSpeed  float64
}

// ViolationDetector tracks a speed-over-limit episode across ticks.
//
// The comparison is strict: speed exactly equal to the limit never starts or
// continues an episode. Entering an episode requires a concrete limit
// context; losing the context while violating closes the episode using the
// context captured at entry.
type ViolationDetector struct {
	current *episode
}

// NewViolationDetector returns a detector in the Idle state.
func NewViolationDetector() *ViolationDetector {
	return &ViolationDetector{}
}

// Active reports whether an episode is currently open.
func (d *ViolationDetector) Active() bool {
	return d.current != nil
}

// Elapsed returns the duration accumulated by the open episode, or zero.
func (d *ViolationDetector) Elapsed() float64 {
	if d.current == nil {
		return 0
	}
	return d.current.duration
}

// Observe advances the state machine by one tick and returns the summarized
// event if this tick closed an episode, else nil. Each tick contributes at
// most one accumulation step, scaled by the tick's own delta-time.
func (d *ViolationDetector) Observe(tick Tick) *ViolationEvent {
	speed := tick.State.SpeedMPS
	violating := tick.Limit != nil && speed > tick.Limit.LimitMPS

	if d.current == nil {
		if !violating {
			return nil
		}
		d.current = &episode{
			zone:      tick.Limit.Zone,
			limit:     tick.Limit.LimitMPS,
			simStart:  tick.SimTime,
			wallStart: tick.Wall,
			duration:  tick.Delta,
			minSpeed:  speed,
			maxSpeed:  speed,
		}
		return nil
	}

	if violating {
		d.current.duration += tick.Delta
		if speed < d.current.minSpeed {
			d.current.minSpeed = speed
		}
		if speed > d.current.maxSpeed {
			d.current.maxSpeed = speed
		}
		return nil
	}

	ep := d.current
	d.current = nil
	if ep.duration <= 0 || ep.zone == "" {
		return nil
	}
	return &ViolationEvent{
		ID:          uuid.NewString(),
		Zone:        ep.zone,
		LimitMPS:    ep.limit,
		MaxSpeedMPS: ep.maxSpeed,
		MinSpeedMPS: ep.minSpeed,
		Duration:    ep.duration,
		SimStart:    ep.simStart,
		SimEnd:      tick.SimTime,
		WallStart:   ep.wallStart,
		WallEnd:     tick.Wall,
		Location:    tick.State.Position,
		Severity:    classify(ep.limit, ep.maxSpeed),
	}
}
