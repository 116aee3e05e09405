// Package telemetry models the vessel data bus: Signal K style deltas,
// well-known paths, and an in-process hub that fans deltas out to
// subscribers and external sinks.
package telemetry

import (
	"encoding/json"
	"time"
)

// SelfContext is the context of the vessel running the gateway.
const SelfContext = "vessels.self"

// Paths used by the gateway.
const (
	PathPosition = "navigation.position"
	PathNavState = "navigation.state"
	PathName     = "name"

	PathAPRSCallsign = "communication.aprs.callsign"
	PathAPRSSSID     = "communication.aprs.ssid"
	PathAPRSSymbol   = "communication.aprs.symbol"
	PathAPRSPath     = "communication.aprs.path"
	PathAPRSComment  = "communication.aprs.comment"

	PathTemperature   = "environment.outside.temperature"
	PathPressure      = "environment.outside.pressure"
	PathHumidity      = "environment.outside.relativeHumidity"
	PathWindSpeed     = "environment.wind.speedOverGround"
	PathWindDirection = "environment.wind.directionTrue"
)

// Source labels updates produced by the gateway.
const Source = "aprsgate"

// StationContext returns the context for a remote APRS station.
func StationContext(callsign string) string {
	return "vessels.urn:mrn:signalk:aprs:" + callsign
}

// Position is the value of navigation.position.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PathValue is one value in an update.
type PathValue struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Update groups values sharing a source and timestamp.
type Update struct {
	Source    string      `json:"$source,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Values    []PathValue `json:"values"`
}

// Delta is a set of updates for one context.
type Delta struct {
	Context string   `json:"context"`
	Updates []Update `json:"updates"`
}

// NewDelta builds a single-update delta stamped with the gateway source.
func NewDelta(context string, ts time.Time, values ...PathValue) Delta {
	return Delta{
		Context: context,
		Updates: []Update{{Source: Source, Timestamp: ts, Values: values}},
	}
}

// Lookup returns the last value for path across all updates.
func (d Delta) Lookup(path string) (any, bool) {
	var (
		v     any
		found bool
	)
	for _, u := range d.Updates {
		for _, pv := range u.Values {
			if pv.Path == path {
				v, found = pv.Value, true
			}
		}
	}
	return v, found
}

// Len counts values across all updates.
func (d Delta) Len() int {
	n := 0
	for _, u := range d.Updates {
		n += len(u.Values)
	}
	return n
}

// filter returns a copy holding only values for path.
func (d Delta) filter(path string) (Delta, bool) {
	out := Delta{Context: d.Context}
	for _, u := range d.Updates {
		var vals []PathValue
		for _, pv := range u.Values {
			if pv.Path == path {
				vals = append(vals, pv)
			}
		}
		if len(vals) > 0 {
			out.Updates = append(out.Updates, Update{Source: u.Source, Timestamp: u.Timestamp, Values: vals})
		}
	}
	return out, len(out.Updates) > 0
}

// PositionFrom converts a navigation.position value, either a Position or
// the generic map produced by JSON decoding.
func PositionFrom(v any) (Position, bool) {
	switch p := v.(type) {
	case Position:
		return p, true
	case *Position:
		if p == nil {
			return Position{}, false
		}
		return *p, true
	case map[string]any:
		lat, ok1 := p["latitude"].(float64)
		lon, ok2 := p["longitude"].(float64)
		return Position{Latitude: lat, Longitude: lon}, ok1 && ok2
	case json.RawMessage:
		var pos Position
		if err := json.Unmarshal(p, &pos); err != nil {
			return Position{}, false
		}
		return pos, true
	}
	return Position{}, false
}
