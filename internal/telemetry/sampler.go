package telemetry

import "log/slog"

// Sampler orchestrates one vehicle's odometry sampling: distance
// accumulation, violation episode detection, snapshot assembly, and
// rate-limited publishing. It is driven synchronously by an external tick
// loop and performs no locking of its own; the caller guarantees a single
// writer.
type Sampler struct {
	vehicleID string
	unit      string

	odometer  *Odometer
	publisher *Publisher
	detector  *ViolationDetector

	transport Transport
	sink      EventSink
	logger    *slog.Logger

	latest     *Snapshot
	violations int
}

// SamplerConfig carries the construction parameters for a Sampler.
type SamplerConfig struct {
	VehicleID string
	PublishHz float64
	// Unit names the distance unit; Scale is its multiplier from metres.
	Unit  string
	Scale float64
	// Transport and Sink may be nil; publishing and event recording are
	// then skipped while the sampling state machine still runs.
	Transport Transport
	Sink      EventSink
	Logger    *slog.Logger
}

// NewSampler validates the configuration and builds a sampler.
func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	publisher, err := NewPublisher(cfg.PublishHz)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		vehicleID: cfg.VehicleID,
		unit:      cfg.Unit,
		odometer:  NewOdometer(cfg.Scale),
		publisher: publisher,
		detector:  NewViolationDetector(),
		transport: cfg.Transport,
		sink:      cfg.Sink,
		logger:    logger.With("component", "sampler", "vehicle_id", cfg.VehicleID),
	}, nil
}

// Update runs one tick: accumulate distance, drive the violation detector,
// assemble the snapshot, and let the publisher decide on emission. All state
// transitions are atomic with respect to each other within the tick.
func (s *Sampler) Update(tick Tick) {
	s.odometer.Update(tick.State.Position)

	if event := s.detector.Observe(tick); event != nil {
		event.VehicleID = s.vehicleID
		s.violations++
		s.logger.Info("violation episode closed",
			"zone", event.Zone,
			"limit_mps", event.LimitMPS,
			"max_speed_mps", event.MaxSpeedMPS,
			"duration_s", event.Duration,
			"severity", event.Severity,
		)
		if s.sink != nil {
			s.sink.Record(*event)
		}
	}

	snap := Snapshot{
		VehicleID:     s.vehicleID,
		SimTime:       tick.SimTime,
		SpeedMPS:      tick.State.SpeedMPS,
		SteeringFront: tick.State.SteeringFront,
		SteeringBack:  0,
	}
	s.latest = &snap

	s.publisher.Tick(tick.SimTime, snap, s.transport)
}

// SetPublishFrequency reconfigures the publish rate; takes effect on the
// next scheduling decision.
func (s *Sampler) SetPublishFrequency(hz float64) error {
	return s.publisher.SetFrequency(hz)
}

// PublishFrequency returns the configured publish rate in Hz.
func (s *Sampler) PublishFrequency() float64 {
	return s.publisher.Frequency()
}

// Status returns the introspection view. Before the first tick it reports
// an absent snapshot rather than failing.
func (s *Sampler) Status() Status {
	status := Status{
		VehicleID:  s.vehicleID,
		Distance:   s.odometer.Total(),
		Unit:       s.unit,
		StartPos:   s.odometer.Start(),
		Violations: s.violations,
		Violating:  s.detector.Active(),
	}
	if s.detector.Active() {
		status.ViolationDuration = s.detector.Elapsed()
	}
	if s.latest != nil {
		status.HasSnapshot = true
		status.Snapshot = *s.latest
	}
	return status
}
