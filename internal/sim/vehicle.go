package sim

import "github.com/roadsim/odotelem/internal/telemetry"

// vehicleSim steps one vehicle along the route with constant acceleration
// toward the active phase's target speed. It supplies the instantaneous
// kinematic state the sampler reads each tick.
type vehicleSim struct {
	spec    VehicleSpec
	route   *Route
	elapsed float64
	offset  float64
	speed   float64
}

func newVehicleSim(spec VehicleSpec, route *Route) *vehicleSim {
	return &vehicleSim{spec: spec, route: route}
}

// activePhase returns the phase covering the vehicle's elapsed time. After
// the last phase ends the vehicle holds that phase's target.
func (v *vehicleSim) activePhase() Phase {
	remaining := v.elapsed
	for _, phase := range v.spec.Phases {
		if remaining < phase.DurationS {
			return phase
		}
		remaining -= phase.DurationS
	}
	return v.spec.Phases[len(v.spec.Phases)-1]
}

// step advances the vehicle by dt seconds and returns its new state.
func (v *vehicleSim) step(dt float64) telemetry.VehicleState {
	phase := v.activePhase()
	target := phase.TargetSpeedMPS

	var dist, newSpeed float64
	switch {
	case v.speed < target:
		newSpeed = v.speed + v.spec.AccelMPS2*dt
		if newSpeed > target {
			newSpeed = target
		}
		dist = kinematicStep(v.speed, newSpeed, dt)
	case v.speed > target:
		newSpeed = v.speed - v.spec.DecelMPS2*dt
		if newSpeed < target {
			newSpeed = target
		}
		dist = kinematicStep(v.speed, newSpeed, dt)
	default:
		newSpeed = v.speed
		dist = v.speed * dt
	}

	v.speed = newSpeed
	v.offset += dist
	v.elapsed += dt

	return telemetry.VehicleState{
		Position:      v.route.PositionAt(v.offset),
		SpeedMPS:      v.speed,
		SteeringFront: phase.SteeringRad,
	}
}

// limit returns the zone speed limit at the vehicle's current offset.
func (v *vehicleSim) limit() *telemetry.SpeedLimit {
	return v.route.LimitAt(v.offset)
}

// kinematicStep is the distance covered in dt under a linear speed change.
func kinematicStep(from, to, dt float64) float64 {
	return (from + to) / 2 * dt
}
