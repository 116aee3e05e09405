// Package tnc manages KISS TNC connections over TCP or serial links:
// dialing, reconnecting, idle detection and frame delivery.
package tnc

import "errors"

var (
	ErrNotOnline = errors.New("tnc: connection not online")
	ErrStopped   = errors.New("tnc: manager stopped")
)

// Status is the state of one TNC connection.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOnline
	StatusError
	StatusClosed
	StatusReconnecting
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusConnecting:
		return "Connecting"
	case StatusOnline:
		return "Online"
	case StatusError:
		return "Error"
	case StatusClosed:
		return "Closed"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// MarshalText renders the status name in JSON and YAML.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
