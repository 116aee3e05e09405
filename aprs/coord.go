// Package aprs formats and parses the APRS information field: positions,
// weather reports and the units they are expressed in.
package aprs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrUnsupported = errors.New("aprs: unsupported report")
	ErrMalformed   = errors.New("aprs: malformed report")
)

// FormatLatitude renders decimal degrees as DDMM.ssH. The hemisphere is N
// only for strictly positive values; zero renders as S.
func FormatLatitude(deg float64) string {
	return formatCoord(deg, 2, 'N', 'S')
}

// FormatLongitude renders decimal degrees as DDDMM.ssH, E for strictly
// positive values and W otherwise.
func FormatLongitude(deg float64) string {
	return formatCoord(deg, 3, 'E', 'W')
}

// formatCoord splits the magnitude into whole degrees, whole minutes and
// whole seconds. The seconds occupy the hundredths-of-minute position.
func formatCoord(v float64, degWidth int, pos, neg byte) string {
	a := math.Abs(v)
	d := math.Floor(a)
	minutes := 60 * (a - d)
	m := math.Floor(minutes)
	s := math.Floor(60 * (minutes - m))
	h := neg
	if v > 0 {
		h = pos
	}
	return fmt.Sprintf("%0*d%02d.%02d%c", degWidth, int(d), int(m), int(s), h)
}

// ParseLatitude reads an 8 character DDMM.mmH field. Spaces used for
// position ambiguity are read as zeros.
func ParseLatitude(s string) (float64, error) {
	return parseCoord(s, 2, 'N', 'S', 90)
}

// ParseLongitude reads a 9 character DDDMM.mmH field.
func ParseLongitude(s string) (float64, error) {
	return parseCoord(s, 3, 'E', 'W', 180)
}

func parseCoord(s string, degWidth int, pos, neg byte, limit float64) (float64, error) {
	if len(s) != degWidth+6 {
		return 0, fmt.Errorf("%w: coordinate %q has length %d", ErrMalformed, s, len(s))
	}
	if s[degWidth+2] != '.' {
		return 0, fmt.Errorf("%w: coordinate %q missing decimal point", ErrMalformed, s)
	}
	digits := strings.ReplaceAll(s[:len(s)-1], " ", "0")
	deg, err := strconv.Atoi(digits[:degWidth])
	if err != nil {
		return 0, fmt.Errorf("%w: coordinate %q degrees", ErrMalformed, s)
	}
	minutes, err := strconv.ParseFloat(digits[degWidth:], 64)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("%w: coordinate %q minutes", ErrMalformed, s)
	}
	v := float64(deg) + minutes/60
	if v > limit {
		return 0, fmt.Errorf("%w: coordinate %q out of range", ErrMalformed, s)
	}
	switch h := s[len(s)-1] &^ 0x20; h {
	case pos:
		return v, nil
	case neg:
		return -v, nil
	default:
		return 0, fmt.Errorf("%w: coordinate %q hemisphere %q", ErrMalformed, s, s[len(s)-1])
	}
}
