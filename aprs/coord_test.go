package aprs

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestFormatLatitude(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{45.5, "4530.00N"},
		{-45.5, "4530.00S"},
		{0, "0000.00S"},
		{60.25, "6015.00N"},
		{-8.125, "0807.30S"},
		{90, "9000.00N"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatLatitude(tc.in))
		})
	}
}

func TestFormatLongitude(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{-122.75, "12245.00W"},
		{122.75, "12245.00E"},
		{0, "00000.00W"},
		{24.5, "02430.00E"},
		{-180, "18000.00W"},
	}
	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, FormatLongitude(tc.in))
		})
	}
}

func TestParseCoordinates(t *testing.T) {
	lat, err := ParseLatitude("4903.50N")
	require.NoError(t, err)
	assert.InDelta(t, 49.058333, lat, 1e-6)

	lat, err = ParseLatitude("4903.  S")
	require.NoError(t, err)
	assert.InDelta(t, -49.05, lat, 1e-6)

	lon, err := ParseLongitude("07201.75W")
	require.NoError(t, err)
	assert.InDelta(t, -72.029167, lon, 1e-6)

	lon, err = ParseLongitude("07201.75e")
	require.NoError(t, err)
	assert.InDelta(t, 72.029167, lon, 1e-6)

	for _, bad := range []string{"4903.50", "4903,50N", "4903.50X", "9900.00N", "4960.00N", "AB03.50N"} {
		_, err := ParseLatitude(bad)
		assert.ErrorIs(t, err, ErrMalformed, bad)
	}
	_, err = ParseLongitude("18100.00E")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFormatParseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lat := rapid.Float64Range(-90, 90).Draw(t, "lat")
		lon := rapid.Float64Range(-180, 180).Draw(t, "lon")

		ls := FormatLatitude(lat)
		os := FormatLongitude(lon)
		require.Len(t, ls, 8)
		require.Len(t, os, 9)
		assert.Equal(t, ls, FormatLatitude(lat))

		pl, err := ParseLatitude(ls)
		require.NoError(t, err)
		po, err := ParseLongitude(os)
		require.NoError(t, err)

		assert.Less(t, math.Abs(math.Abs(pl)-math.Abs(lat)), 1.0/60)
		assert.Less(t, math.Abs(math.Abs(po)-math.Abs(lon)), 1.0/60)
		if lat > 0 {
			assert.Equal(t, byte('N'), ls[7])
		} else {
			assert.Equal(t, byte('S'), ls[7])
		}
	})
}

func TestUnits(t *testing.T) {
	assert.InDelta(t, 273.15, FahrenheitToKelvin(32), 1e-9)
	assert.InDelta(t, 373.15, FahrenheitToKelvin(212), 1e-9)
	assert.InDelta(t, 4.4704, MphToMetersPerSecond(10), 1e-9)
	assert.InDelta(t, math.Pi, DegreesToRadians(180), 1e-12)
	assert.Equal(t, 10132000.0, BarometerToPressure(10132))
	assert.Equal(t, 1.0, HumidityToRatio(0))
	assert.InDelta(t, 0.55, HumidityToRatio(55), 1e-12)
}

func TestBeaconPayload(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		tokens []string
		want   string
	}{
		{"note only", "/Y", []string{"", "", "hello"}, "=4530.00N/12245.00W/Y hello"},
		{"all tokens", "/Y", []string{"Aurora", "sailing", "hi"}, "=4530.00N/12245.00W/Y Aurora sailing hi"},
		{"no tokens", "\\s", nil, "=4530.00N\\12245.00Ws"},
		{"bad symbol falls back", "Y", []string{"x"}, "=4530.00N/12245.00W/Y x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BeaconPayload(45.5, -122.75, tc.symbol, tc.tokens...))
		})
	}
}
