package api

import (
	"fmt"
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

const earthRadiusKm = 6371

// mgrsPrecision is 1 m.
const mgrsPrecision = 5

func latLng(lat, lon float64) s2.LatLng {
	return s2.LatLng{
		Lat: s1.Angle(lat * math.Pi / 180),
		Lng: s1.Angle(lon * math.Pi / 180),
	}
}

// distanceKm is the great-circle distance between two points.
func distanceKm(from, to s2.LatLng) float64 {
	return from.Distance(to).Radians() * earthRadiusKm
}

// bearingDeg is the initial bearing from one point to another, 0 to 360
// degrees clockwise from true north.
func bearingDeg(from, to s2.LatLng) float64 {
	lat1, lat2 := from.Lat.Radians(), to.Lat.Radians()
	dlon := (to.Lng - from.Lng).Radians()
	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)
	b := s1.Angle(math.Atan2(y, x)).Degrees()
	return math.Mod(b+360, 360)
}

// mgrs returns the Military Grid Reference System locator, or "" where
// MGRS is undefined.
func mgrs(ll s2.LatLng) string {
	coord, err := coordconv.DefaultMGRSConverter.ConvertFromGeodetic(ll, mgrsPrecision)
	if err != nil {
		return ""
	}
	return fmt.Sprint(coord)
}
