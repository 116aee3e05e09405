package aprs

import (
	"math"
	"strconv"
	"strings"
)

// Weather holds APRS weather values in their native units. Missing values
// are NaN.
type Weather struct {
	WindDirection float64 // degrees
	WindSpeed     float64 // mph
	WindGust      float64 // mph
	Temperature   float64 // degrees F
	RainLastHour  float64 // hundredths of an inch
	Rain24Hours   float64 // hundredths of an inch
	RainMidnight  float64 // hundredths of an inch
	Humidity      float64 // percent, 0 means 100
	Barometer     float64 // tenths of millibars
	Luminosity    float64 // W/m^2
}

func newWeather() *Weather {
	nan := math.NaN()
	return &Weather{
		WindDirection: nan,
		WindSpeed:     nan,
		WindGust:      nan,
		Temperature:   nan,
		RainLastHour:  nan,
		Rain24Hours:   nan,
		RainMidnight:  nan,
		Humidity:      nan,
		Barometer:     nan,
		Luminosity:    nan,
	}
}

func (w *Weather) empty() bool {
	for _, v := range []float64{
		w.WindDirection, w.WindSpeed, w.WindGust, w.Temperature,
		w.RainLastHour, w.Rain24Hours, w.RainMidnight,
		w.Humidity, w.Barometer, w.Luminosity,
	} {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

var fieldWidths = map[byte]int{
	'c': 3, 's': 3, 'g': 3, 't': 3,
	'r': 3, 'p': 3, 'P': 3,
	'h': 2, 'b': 5, 'L': 3, 'l': 3, '#': 3,
}

// takeField consumes one <id><digits> field from the front of s.
func takeField(s string, id byte) (float64, string, bool) {
	width, known := fieldWidths[id]
	if !known || len(s) < 1+width || s[0] != id {
		return math.NaN(), s, false
	}
	v, ok := weatherValue(s[1 : 1+width])
	if !ok {
		return math.NaN(), s, false
	}
	return v, s[1+width:], true
}

// parseFields consumes weather fields in any order and returns what is
// left, normally the software and station type suffix.
func (w *Weather) parseFields(s string) string {
	for len(s) > 0 {
		id := s[0]
		v, rest, ok := takeField(s, id)
		if !ok {
			break
		}
		switch id {
		case 'c':
			w.WindDirection = v
		case 'g':
			w.WindGust = v
		case 't':
			w.Temperature = v
		case 'r':
			w.RainLastHour = v
		case 'p':
			w.Rain24Hours = v
		case 'P':
			w.RainMidnight = v
		case 'h':
			w.Humidity = v
		case 'b':
			w.Barometer = v
		case 'L':
			w.Luminosity = v
		case 'l':
			if !math.IsNaN(v) {
				w.Luminosity = v + 1000
			}
		}
		// 's' here is snowfall and '#' the raw rain counter; both skipped.
		s = rest
	}
	return s
}

// weatherValue parses a fixed width numeric field. All dots or all spaces
// mean the value is unknown.
func weatherValue(f string) (float64, bool) {
	if strings.Trim(f, ".") == "" || strings.TrimSpace(f) == "" {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}
