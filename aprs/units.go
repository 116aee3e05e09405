package aprs

import "math"

// FahrenheitToKelvin converts an APRS temperature to Kelvin.
func FahrenheitToKelvin(f float64) float64 {
	return (f + 459.67) * 5 / 9
}

// MphToMetersPerSecond converts wind speed.
func MphToMetersPerSecond(mph float64) float64 {
	return mph * 0.44704
}

// DegreesToRadians converts a wind direction.
func DegreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// BarometerToPressure scales the raw b field (tenths of millibars) by 1000.
// Downstream consumers expect this scale, which is not pascals.
func BarometerToPressure(b float64) float64 {
	return b * 1000
}

// HumidityToRatio converts a percentage to a 0..1 ratio. APRS sends 00
// for 100%.
func HumidityToRatio(h float64) float64 {
	if h == 0 {
		return 1.0
	}
	return h / 100
}

// KnotsToMph converts compressed-position wind speed.
func KnotsToMph(kn float64) float64 {
	return kn * 1.15077945
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
