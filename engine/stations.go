package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"aprsgate/aprs"
	"aprsgate/valkey"
)

// Station is what the gateway knows about one heard station. Stations only
// heard through unsupported frames carry just the address and time.
type Station struct {
	Address   string    `json:"address"`
	Callsign  string    `json:"callsign,omitempty"`
	TNC       string    `json:"tnc,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Path      []string  `json:"path,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Weather   bool      `json:"weather"`
	LastHeard time.Time `json:"last_heard"`
}

func (s Station) valkeyMessage() valkey.StationMessage {
	return valkey.StationMessage{
		Callsign:  s.Callsign,
		Address:   s.Address,
		TNC:       s.TNC,
		Symbol:    s.Symbol,
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Path:      s.Path,
		Comment:   s.Comment,
		Weather:   s.Weather,
		LastHeard: s.LastHeard,
	}
}

// recordStation keeps the latest report of each station.
func (e *Engine) recordStation(tncAddr string, r *aprs.Decoded) {
	st := Station{
		Address:   r.Source.String(),
		Callsign:  r.Source.Callsign,
		TNC:       tncAddr,
		Symbol:    r.Symbol,
		Comment:   r.Comment,
		Weather:   r.Weather != nil,
		LastHeard: r.Received,
	}
	for _, a := range r.Path {
		st.Path = append(st.Path, a.String())
	}
	if p := r.Position; p != nil && isFinite(p.Latitude) && isFinite(p.Longitude) {
		lat, lon := p.Latitude, p.Longitude
		st.Latitude, st.Longitude = &lat, &lon
	}

	e.stationsMu.Lock()
	if prev, ok := e.stations[st.Address]; ok && st.Latitude == nil {
		// Keep the last known position across positionless weather.
		st.Latitude, st.Longitude = prev.Latitude, prev.Longitude
	}
	e.stations[st.Address] = st
	e.stationsMu.Unlock()

	e.emit(EventStationHeard, StationEvent{Station: st})
	e.valkeyMgr.PublishStation(st.valkeyMessage())
}

// Stations lists the stations heard inside the presence window, most
// recent first.
func (e *Engine) Stations() []Station {
	heard := e.presence.Stations(e.clock.Now(), e.presenceWindow())
	e.stationsMu.RLock()
	defer e.stationsMu.RUnlock()
	out := make([]Station, 0, len(heard))
	for _, h := range heard {
		st, ok := e.stations[h.Address]
		if !ok {
			st = Station{Address: h.Address}
		}
		st.LastHeard = h.LastHeard
		out = append(out, st)
	}
	return out
}

// Station returns one heard station by address. A bare callsign matches
// its most recently heard SSID.
func (e *Engine) Station(addr string) (Station, error) {
	addr = strings.ToUpper(strings.TrimSpace(addr))
	var matches []Station // most recent first
	for _, st := range e.Stations() {
		if st.Address == addr {
			return st, nil
		}
		if strings.SplitN(st.Address, "-", 2)[0] == addr {
			matches = append(matches, st)
		}
	}
	if len(matches) == 0 {
		return Station{}, fmt.Errorf("%w: station '%s'", ErrNotFound, addr)
	}
	return matches[0], nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
