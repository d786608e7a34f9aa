package sim

import (
	"fmt"
	"math"

	"github.com/roadsim/odotelem/internal/telemetry"
)

type routeLeg struct {
	start    float64 // cumulative offset of the leg's first metre
	length   float64
	origin   telemetry.Position
	dirX     float64
	dirY     float64
	zone     string
	limitMPS *float64
}

// Route resolves a 1D offset along the scenario route into a 2D map position
// and the zone speed limit applying there. Offsets past the end of the route
// extrapolate along the last leg and carry no limit context.
type Route struct {
	legs  []routeLeg
	total float64
}

// NewRoute builds the route polyline from scenario segments.
func NewRoute(segments []Segment) (*Route, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("route requires at least one segment")
	}

	route := &Route{legs: make([]routeLeg, 0, len(segments))}
	cursor := telemetry.Position{}
	offset := 0.0
	for i, seg := range segments {
		if seg.LengthM <= 0 {
			return nil, fmt.Errorf("segment %d: non-positive length %v", i, seg.LengthM)
		}
		heading := seg.HeadingDeg * math.Pi / 180
		leg := routeLeg{
			start:    offset,
			length:   seg.LengthM,
			origin:   cursor,
			dirX:     math.Cos(heading),
			dirY:     math.Sin(heading),
			zone:     seg.Zone,
			limitMPS: seg.LimitMPS,
		}
		if leg.limitMPS != nil && leg.zone == "" {
			leg.zone = fmt.Sprintf("segment-%d", i)
		}
		route.legs = append(route.legs, leg)
		cursor = telemetry.Position{
			X: cursor.X + leg.dirX*leg.length,
			Y: cursor.Y + leg.dirY*leg.length,
		}
		offset += seg.LengthM
	}
	route.total = offset
	return route, nil
}

// Length returns the total route length in metres.
func (r *Route) Length() float64 {
	return r.total
}

// PositionAt maps an offset in metres to a 2D position.
func (r *Route) PositionAt(offset float64) telemetry.Position {
	if offset <= 0 {
		return r.legs[0].origin
	}
	leg := r.legAt(offset)
	along := offset - leg.start
	return telemetry.Position{
		X: leg.origin.X + leg.dirX*along,
		Y: leg.origin.Y + leg.dirY*along,
	}
}

// LimitAt returns the speed limit context at the offset, or nil when the
// segment carries no limit or the offset is past the end of the route.
func (r *Route) LimitAt(offset float64) *telemetry.SpeedLimit {
	if offset < 0 || offset >= r.total {
		return nil
	}
	leg := r.legAt(offset)
	if leg.limitMPS == nil {
		return nil
	}
	return &telemetry.SpeedLimit{Zone: leg.zone, LimitMPS: *leg.limitMPS}
}

func (r *Route) legAt(offset float64) *routeLeg {
	for i := range r.legs {
		leg := &r.legs[i]
		if offset < leg.start+leg.length {
			return leg
		}
	}
	return &r.legs[len(r.legs)-1]
}
