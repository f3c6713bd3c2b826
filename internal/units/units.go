// Package units handles the speed units admin clients may request.
//
// Hit records always carry vehicle speed in metres per second; conversion
// happens only at the presentation edge, driven by a 'units' query
// parameter.
package units

// Recognised values of the 'units' query parameter.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits lists every accepted parameter value.
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid reports whether unit is an accepted parameter value.
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns the accepted values as a comma-separated
// list for error messages.
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a stored m/s speed to the target units.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694 // m/s to mph
	case KMPH, KPH:
		return speedMPS * 3.6 // m/s to km/h
	case MPS:
		return speedMPS
	default:
		return speedMPS // unknown units fall back to m/s
	}
}
