package telemetry

import "math"

// Odometer integrates traveled distance from successive position samples.
// The total is monotonically non-decreasing and is never reset for the
// lifetime of the sampler.
type Odometer struct {
	scale float64
	prev  *Position
	start *Position
	total float64
}

// NewOdometer returns an odometer reporting in the unit implied by scale
// (multiplier from metres; see units.DistanceScale). A non-positive scale
// falls back to metres.
func NewOdometer(scale float64) *Odometer {
	if scale <= 0 {
		scale = 1
	}
	return &Odometer{scale: scale}
}

// Update adds the Euclidean distance from the previous position to pos. The
// first call only establishes the baseline and contributes zero.
func (o *Odometer) Update(pos Position) {
	if o.prev == nil {
		p := pos
		o.prev = &p
		s := pos
		o.start = &s
		return
	}
	dx := pos.X - o.prev.X
	dy := pos.Y - o.prev.Y
	o.total += math.Hypot(dx, dy) * o.scale
	*o.prev = pos
}

// Total returns the accumulated distance in the configured unit.
func (o *Odometer) Total() float64 {
	return o.total
}

// Start returns the baseline position, or nil before the first update.
func (o *Odometer) Start() *Position {
	if o.start == nil {
		return nil
	}
	p := *o.start
	return &p
}
