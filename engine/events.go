package engine

import (
	"time"

	"aprsgate/tnc"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	EventStatus EventType = iota + 1
	EventTNCStateChanged
	EventTNCError
	EventBeaconSent
	EventStationHeard
	EventConfigChanged
)

func (t EventType) String() string {
	switch t {
	case EventStatus:
		return "status"
	case EventTNCStateChanged:
		return "tnc"
	case EventTNCError:
		return "tnc_error"
	case EventBeaconSent:
		return "beacon"
	case EventStationHeard:
		return "station"
	case EventConfigChanged:
		return "config"
	default:
		return "unknown"
	}
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// StatusEvent carries a new status line.
type StatusEvent struct {
	Status string `json:"status"`
}

// TNCEvent carries a connection snapshot after a state change.
type TNCEvent struct {
	tnc.Info
}

// TNCErrorEvent carries a connection error.
type TNCErrorEvent struct {
	Address string `json:"address"`
	Error   string `json:"error"`
}

// BeaconEvent describes a transmitted beacon.
type BeaconEvent struct {
	Payload string   `json:"payload"`
	Targets []string `json:"targets"`
}

// StationEvent carries the updated record of a heard station.
type StationEvent struct {
	Station
}

// SystemEvent is the payload for system-level events.
type SystemEvent struct {
	Detail string `json:"detail"`
}
