// Package beacon turns own-vessel position updates into APRS position
// beacons and sends them to every transmitting TNC.
package beacon

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"aprsgate/aprs"
	"aprsgate/ax25"
	"aprsgate/config"
	"aprsgate/kiss"
	"aprsgate/logging"
	"aprsgate/telemetry"
)

// StatePeriod throttles navigation.state updates.
const StatePeriod = time.Minute

var (
	// Destination identifies the software in the AX.25 destination field.
	Destination = ax25.MustParseAddress("APZ42")
	// Path is the digipeater path of every beacon.
	Path = []ax25.Address{ax25.MustParseAddress("WIDE1-1")}
)

// StatusDisabled is set instead of transmitting when beaconing is off.
const StatusDisabled = "Beaconing disabled, no TX"

// Broadcaster writes a KISS frame to the TNCs allowed to transmit and
// returns the addresses written.
type Broadcaster interface {
	Broadcast(frame []byte) []string
}

// Reporter receives status lines. Debounce schedules a presence status
// refresh.
type Reporter interface {
	SetStatus(msg string)
	Debounce()
}

// Monitor records transmitted frames.
type Monitor interface {
	TX(addr, frame string) error
}

// Stats summarizes what the transmitter has sent.
type Stats struct {
	Enabled     bool      `json:"enabled"`
	Source      string    `json:"source"`
	Sent        uint64    `json:"sent"`
	LastPayload string    `json:"last_payload,omitempty"`
	LastTX      time.Time `json:"last_tx,omitzero"`
	LastTargets []string  `json:"last_targets,omitempty"`
	NavState    string    `json:"nav_state,omitempty"`
}

// Transmitter builds and broadcasts beacons.
type Transmitter struct {
	cfg config.BeaconConfig
	src ax25.Address
	tx  Broadcaster
	bus telemetry.Bus
	rep Reporter
	now func() time.Time

	mu          sync.Mutex
	monitor     Monitor
	onSent      func(payload string, targets []string)
	navState    string
	sent        uint64
	lastPayload string
	lastTX      time.Time
	lastTargets []string
	unsubs      []func()
}

// New returns a transmitter. The source address must be valid when
// beaconing is enabled; a disabled transmitter only announces it.
func New(cfg config.BeaconConfig, tx Broadcaster, bus telemetry.Bus, rep Reporter) (*Transmitter, error) {
	src, err := cfg.Source()
	if err != nil {
		if cfg.Enabled {
			return nil, fmt.Errorf("beacon source: %w", err)
		}
		logging.DebugLog("beacon", "disabled with invalid source %q: %v", cfg.Callsign, err)
		src = ax25.Address{Callsign: strings.ToUpper(strings.TrimSpace(cfg.Callsign)), SSID: cfg.SSID}
	}
	if len(cfg.Symbol) != 2 {
		cfg.Symbol = aprs.DefaultSymbol
	}
	return &Transmitter{
		cfg: cfg,
		src: src,
		tx:  tx,
		bus: bus,
		rep: rep,
		now: time.Now,
	}, nil
}

// SetMonitor attaches a monitor log for transmitted frames.
func (t *Transmitter) SetMonitor(m Monitor) {
	t.mu.Lock()
	t.monitor = m
	t.mu.Unlock()
}

// SetOnSent sets a callback for every transmitted beacon.
func (t *Transmitter) SetOnSent(fn func(payload string, targets []string)) {
	t.mu.Lock()
	t.onSent = fn
	t.mu.Unlock()
}

// Source returns the beacon source address.
func (t *Transmitter) Source() ax25.Address {
	return t.src
}

// Start subscribes to own-vessel position, throttled to the beacon
// interval, and navigation state.
func (t *Transmitter) Start() error {
	unsubPos, err := t.bus.Subscribe(telemetry.SelfContext, telemetry.PathPosition, t.cfg.IntervalDuration(), t.HandleDelta)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", telemetry.PathPosition, err)
	}
	unsubState, err := t.bus.Subscribe(telemetry.SelfContext, telemetry.PathNavState, StatePeriod, t.HandleDelta)
	if err != nil {
		unsubPos()
		return fmt.Errorf("subscribe %s: %w", telemetry.PathNavState, err)
	}
	t.mu.Lock()
	t.unsubs = append(t.unsubs, unsubPos, unsubState)
	t.mu.Unlock()
	logging.DebugLog("beacon", "subscribed, interval %s", t.cfg.IntervalDuration())
	return nil
}

// Stop cancels the subscriptions.
func (t *Transmitter) Stop() {
	t.mu.Lock()
	unsubs := t.unsubs
	t.unsubs = nil
	t.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
}

// HandleDelta processes own-vessel updates. navigation.state is
// remembered; each navigation.position triggers one beacon.
func (t *Transmitter) HandleDelta(d telemetry.Delta) {
	for _, u := range d.Updates {
		for _, pv := range u.Values {
			switch pv.Path {
			case telemetry.PathNavState:
				t.setNavState(pv.Value)
			case telemetry.PathPosition:
				t.handlePosition(pv.Value)
			}
		}
	}
}

func (t *Transmitter) setNavState(v any) {
	s, ok := v.(string)
	if !ok && v != nil {
		s = fmt.Sprint(v)
	}
	t.mu.Lock()
	t.navState = strings.TrimSpace(s)
	t.mu.Unlock()
}

func (t *Transmitter) handlePosition(v any) {
	t.publishIdentity()

	if !t.cfg.Enabled {
		t.rep.SetStatus(StatusDisabled)
		return
	}
	pos, ok := telemetry.PositionFrom(v)
	if !ok {
		logging.DebugLog("beacon", "ignoring position value %v", v)
		return
	}
	if !isFinite(pos.Latitude) || !isFinite(pos.Longitude) {
		logging.DebugLog("beacon", "dropping non-finite position %v,%v", pos.Latitude, pos.Longitude)
		return
	}

	t.mu.Lock()
	navState := t.navState
	monitor := t.monitor
	t.mu.Unlock()

	payload := aprs.BeaconPayload(pos.Latitude, pos.Longitude, t.cfg.Symbol, t.cfg.VesselName, navState, t.cfg.Note)
	frame := ax25.NewUIFrame(Destination, t.src, Path, []byte(payload))
	raw, err := frame.Encode()
	if err != nil {
		logging.DebugError("beacon", "encode", err)
		return
	}
	targets := t.tx.Broadcast(kiss.Encapsulate(0, raw))
	logging.DebugLog("beacon", "sent %q to %d TNC(s)", payload, len(targets))
	if monitor != nil {
		line := frame.String()
		for _, addr := range targets {
			if err := monitor.TX(addr, line); err != nil {
				logging.DebugError("beacon", "monitor", err)
			}
		}
	}

	t.mu.Lock()
	t.sent++
	t.lastPayload = payload
	t.lastTX = t.now()
	t.lastTargets = targets
	onSent := t.onSent
	t.mu.Unlock()

	if onSent != nil {
		onSent(payload, targets)
	}
	t.rep.SetStatus("TX " + payload)
	t.rep.Debounce()
}

// publishIdentity announces the own station's APRS identity.
func (t *Transmitter) publishIdentity() {
	d := telemetry.NewDelta(telemetry.SelfContext, t.now(),
		telemetry.PathValue{Path: telemetry.PathAPRSCallsign, Value: t.src.Callsign},
		telemetry.PathValue{Path: telemetry.PathAPRSSSID, Value: t.src.SSID},
		telemetry.PathValue{Path: telemetry.PathAPRSSymbol, Value: t.cfg.Symbol},
	)
	if err := t.bus.Publish(d); err != nil {
		logging.DebugError("beacon", "publish identity", err)
	}
}

// Stats returns a snapshot of transmit counters.
func (t *Transmitter) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Enabled:     t.cfg.Enabled,
		Source:      t.src.String(),
		Sent:        t.sent,
		LastPayload: t.lastPayload,
		LastTX:      t.lastTX,
		LastTargets: append([]string(nil), t.lastTargets...),
		NavState:    t.navState,
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
