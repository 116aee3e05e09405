package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"aprsgate/beacon"
	"aprsgate/decoder"
	"aprsgate/engine"
	"aprsgate/telemetry"
	"aprsgate/tnc"
)

// Backend provides the gateway state served by the API.
type Backend interface {
	Status() (string, time.Time)
	TNCs() []tnc.Info
	TNC(name string) (tnc.Info, error)
	Stations() []engine.Station
	Station(callsign string) (engine.Station, error)
	OwnPosition() (telemetry.Position, bool)
	BeaconStats() beacon.Stats
	DecoderStats() decoder.Stats
	CheckWebUser(username, password string) bool
	WebAuthRequired() bool
}

// EventSource delivers engine events to the SSE stream.
type EventSource interface {
	Subscribe(fn engine.EventHandler) int
	Unsubscribe(id int)
}

// StatusResponse is the JSON response for /api/status.
type StatusResponse struct {
	Status      string        `json:"status"`
	Since       time.Time     `json:"since"`
	TNCsOnline  int           `json:"tncs_online"`
	TNCsTotal   int           `json:"tncs_total"`
	Stations    int           `json:"stations"`
	OwnPosition *PositionInfo `json:"own_position,omitempty"`
	Beacon      beacon.Stats  `json:"beacon"`
	Decoder     decoder.Stats `json:"decoder"`
}

// PositionInfo is a position with its MGRS locator.
type PositionInfo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	MGRS      string  `json:"mgrs,omitempty"`
}

// StationResponse is a heard station. Distance and bearing are relative
// to the own vessel when its position is known.
type StationResponse struct {
	engine.Station
	MGRS       string   `json:"mgrs,omitempty"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
	BearingDeg *float64 `json:"bearing_deg,omitempty"`
}

// handlers holds the API handler functions.
type handlers struct {
	backend Backend
	hub     *eventHub
}

// NewRouter creates the REST API router. The returned cleanup function
// detaches the event stream from the source.
func NewRouter(backend Backend, events EventSource) (chi.Router, func()) {
	r := chi.NewRouter()
	h := &handlers{backend: backend, hub: newEventHub()}
	cleanup := h.setupSSE(events)

	r.Use(corsMiddleware)
	r.Use(h.authMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.handleStatus)
		r.Get("/tncs", h.handleListTNCs)
		r.Get("/tncs/{name}", h.handleTNC)
		r.Get("/stations", h.handleListStations)
		r.Get("/stations/{callsign}", h.handleStation)
		r.Get("/events", h.handleSSE)
	})

	return r, cleanup
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *handlers) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

// authMiddleware enforces HTTP basic auth once any web user is configured.
func (h *handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.backend.WebAuthRequired() {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || !h.backend.CheckWebUser(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="aprsgate"`)
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, since := h.backend.Status()
	tncs := h.backend.TNCs()
	resp := StatusResponse{
		Status:    status,
		Since:     since,
		TNCsTotal: len(tncs),
		Stations:  len(h.backend.Stations()),
		Beacon:    h.backend.BeaconStats(),
		Decoder:   h.backend.DecoderStats(),
	}
	for _, t := range tncs {
		if t.Online {
			resp.TNCsOnline++
		}
	}
	if pos, ok := h.backend.OwnPosition(); ok {
		resp.OwnPosition = &PositionInfo{
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			MGRS:      mgrs(latLng(pos.Latitude, pos.Longitude)),
		}
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleListTNCs(w http.ResponseWriter, r *http.Request) {
	tncs := h.backend.TNCs()
	if tncs == nil {
		tncs = []tnc.Info{}
	}
	h.writeJSON(w, tncs)
}

func (h *handlers) handleTNC(w http.ResponseWriter, r *http.Request) {
	name, _ := url.PathUnescape(chi.URLParam(r, "name"))
	info, err := h.backend.TNC(name)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, info)
}

func (h *handlers) handleListStations(w http.ResponseWriter, r *http.Request) {
	own, hasOwn := h.backend.OwnPosition()
	stations := h.backend.Stations()
	resp := make([]StationResponse, 0, len(stations))
	for _, st := range stations {
		resp = append(resp, stationResponse(st, own, hasOwn))
	}
	h.writeJSON(w, resp)
}

func (h *handlers) handleStation(w http.ResponseWriter, r *http.Request) {
	callsign, _ := url.PathUnescape(chi.URLParam(r, "callsign"))
	st, err := h.backend.Station(callsign)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	own, hasOwn := h.backend.OwnPosition()
	h.writeJSON(w, stationResponse(st, own, hasOwn))
}

func stationResponse(st engine.Station, own telemetry.Position, hasOwn bool) StationResponse {
	resp := StationResponse{Station: st}
	if st.Latitude == nil || st.Longitude == nil {
		return resp
	}
	there := latLng(*st.Latitude, *st.Longitude)
	resp.MGRS = mgrs(there)
	if hasOwn {
		here := latLng(own.Latitude, own.Longitude)
		dist := math.Round(distanceKm(here, there)*1000) / 1000
		brg := math.Round(bearingDeg(here, there)*10) / 10
		resp.DistanceKm = &dist
		resp.BearingDeg = &brg
	}
	return resp
}
