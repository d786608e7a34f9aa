// Package units provides shared constants and conversion for speed and
// distance units. All internal state is kept in SI units (metres, metres per
// second); conversion happens at the presentation edge.
package units

// Speed unit constants.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Distance unit constants.
const (
	Metres     = "m"
	Kilometres = "km"
	Miles      = "mi"
)

// ValidSpeedUnits contains all accepted speed unit values.
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH}

// ValidDistanceUnits contains all accepted distance unit values.
var ValidDistanceUnits = []string{Metres, Kilometres, Miles}

// IsValidSpeedUnit checks if the given unit is an accepted speed unit.
func IsValidSpeedUnit(unit string) bool {
	for _, valid := range ValidSpeedUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// IsValidDistanceUnit checks if the given unit is an accepted distance unit.
func IsValidDistanceUnit(unit string) bool {
	for _, valid := range ValidDistanceUnits {
		if unit == valid {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from metres per second to the target units.
// Unknown units pass the value through unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// DistanceScale returns the multiplier applied to a metre value to express it
// in the target unit. Unknown units scale by 1 (metres).
func DistanceScale(targetUnits string) float64 {
	switch targetUnits {
	case Kilometres:
		return 0.001
	case Miles:
		return 0.000621371
	default:
		return 1
	}
}
