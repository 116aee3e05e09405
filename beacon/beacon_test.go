package beacon

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprsgate/ax25"
	"aprsgate/config"
	"aprsgate/kiss"
	"aprsgate/telemetry"
)

type fakeTNCs struct {
	mu      sync.Mutex
	targets []string
	frames  [][]byte
}

func (f *fakeTNCs) Broadcast(frame []byte) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return f.targets
}

type fakeReporter struct {
	mu        sync.Mutex
	statuses  []string
	debounces int
}

func (r *fakeReporter) SetStatus(msg string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, msg)
	r.mu.Unlock()
}

func (r *fakeReporter) Debounce() {
	r.mu.Lock()
	r.debounces++
	r.mu.Unlock()
}

func (r *fakeReporter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return ""
	}
	return r.statuses[len(r.statuses)-1]
}

type fakeMonitor struct {
	lines []string
}

func (m *fakeMonitor) TX(addr, frame string) error {
	m.lines = append(m.lines, addr+" "+frame)
	return nil
}

func enabledConfig() config.BeaconConfig {
	return config.BeaconConfig{
		Enabled:  true,
		Callsign: "N0CALL",
		SSID:     9,
		Symbol:   "/Y",
		Note:     "hello",
		Interval: 15,
	}
}

func positionDelta(lat, lon float64) telemetry.Delta {
	return telemetry.NewDelta(telemetry.SelfContext, time.Now(),
		telemetry.PathValue{Path: telemetry.PathPosition, Value: telemetry.Position{Latitude: lat, Longitude: lon}})
}

func newTransmitter(t *testing.T, cfg config.BeaconConfig) (*Transmitter, *fakeTNCs, *fakeReporter, *telemetry.Hub) {
	t.Helper()
	tncs := &fakeTNCs{targets: []string{"127.0.0.1:8001"}}
	rep := &fakeReporter{}
	hub := telemetry.NewHub()
	tx, err := New(cfg, tncs, hub, rep)
	require.NoError(t, err)
	return tx, tncs, rep, hub
}

func TestBeaconEndToEnd(t *testing.T) {
	tx, tncs, rep, _ := newTransmitter(t, enabledConfig())
	mon := &fakeMonitor{}
	tx.SetMonitor(mon)

	tx.HandleDelta(positionDelta(45.5, -122.75))

	require.Len(t, tncs.frames, 1)
	port, cmd, data, err := kiss.Unwrap(tncs.frames[0])
	require.NoError(t, err)
	assert.Equal(t, 0, port)
	assert.Equal(t, kiss.CmdData, cmd)

	f, err := ax25.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "APZ42", f.Destination.String())
	assert.Equal(t, "N0CALL-9", f.Source.String())
	assert.Equal(t, "WIDE1-1", f.PathString())
	assert.True(t, f.IsUI())
	assert.Equal(t, "=4530.00N/12245.00W/Y hello", string(f.Info))

	assert.Equal(t, "TX =4530.00N/12245.00W/Y hello", rep.last())
	assert.Equal(t, 1, rep.debounces)
	assert.Equal(t, []string{"127.0.0.1:8001 N0CALL-9>APZ42,WIDE1-1:=4530.00N/12245.00W/Y hello"}, mon.lines)

	st := tx.Stats()
	assert.Equal(t, uint64(1), st.Sent)
	assert.Equal(t, []string{"127.0.0.1:8001"}, st.LastTargets)
}

func TestNavStateAndVesselNameTokens(t *testing.T) {
	cfg := enabledConfig()
	cfg.VesselName = "Aurora"
	tx, tncs, _, _ := newTransmitter(t, cfg)

	tx.HandleDelta(telemetry.NewDelta(telemetry.SelfContext, time.Now(),
		telemetry.PathValue{Path: telemetry.PathNavState, Value: "sailing"}))
	assert.Empty(t, tncs.frames, "state alone does not beacon")

	tx.HandleDelta(positionDelta(45.5, -122.75))
	require.Len(t, tncs.frames, 1)
	_, _, data, err := kiss.Unwrap(tncs.frames[0])
	require.NoError(t, err)
	f, err := ax25.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "=4530.00N/12245.00W/Y Aurora sailing hello", string(f.Info))
}

func TestEmptyTokensAreDropped(t *testing.T) {
	cfg := enabledConfig()
	cfg.Note = ""
	tx, tncs, rep, _ := newTransmitter(t, cfg)
	tx.HandleDelta(positionDelta(45.5, -122.75))
	require.Len(t, tncs.frames, 1)
	assert.Equal(t, "TX =4530.00N/12245.00W/Y", rep.last())
}

func TestDisabledDoesNotTransmit(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	tx, tncs, rep, hub := newTransmitter(t, cfg)

	var identity []telemetry.Delta
	_, err := hub.Subscribe(telemetry.SelfContext, telemetry.PathAPRSCallsign, 0, func(d telemetry.Delta) {
		identity = append(identity, d)
	})
	require.NoError(t, err)

	tx.HandleDelta(positionDelta(45.5, -122.75))
	assert.Empty(t, tncs.frames)
	assert.Equal(t, StatusDisabled, rep.last())
	assert.Equal(t, 0, rep.debounces)
	assert.Len(t, identity, 1, "identity is published even when disabled")
}

func TestIdentityPublishedWithoutTransmitters(t *testing.T) {
	tx, tncs, rep, hub := newTransmitter(t, enabledConfig())
	tncs.targets = nil

	var got telemetry.Delta
	_, err := hub.Subscribe(telemetry.SelfContext, telemetry.PathAPRSSSID, 0, func(d telemetry.Delta) { got = d })
	require.NoError(t, err)

	tx.HandleDelta(positionDelta(45.5, -122.75))
	v, ok := got.Lookup(telemetry.PathAPRSSSID)
	require.True(t, ok)
	assert.Equal(t, 9, v)
	assert.Equal(t, "TX =4530.00N/12245.00W/Y hello", rep.last())
}

func TestNonFinitePositionIsDropped(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"nan latitude", math.NaN(), 10},
		{"inf longitude", 10, math.Inf(-1)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx, tncs, rep, _ := newTransmitter(t, enabledConfig())
			tx.HandleDelta(positionDelta(tc.lat, tc.lon))
			assert.Empty(t, tncs.frames)
			assert.Empty(t, rep.statuses)
		})
	}
}

func TestJSONPositionValue(t *testing.T) {
	tx, tncs, _, _ := newTransmitter(t, enabledConfig())
	tx.HandleDelta(telemetry.NewDelta(telemetry.SelfContext, time.Now(),
		telemetry.PathValue{Path: telemetry.PathPosition, Value: map[string]any{"latitude": 45.5, "longitude": -122.75}}))
	assert.Len(t, tncs.frames, 1)
}

func TestSubscriptionThrottlesToInterval(t *testing.T) {
	tx, tncs, _, hub := newTransmitter(t, enabledConfig())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	hub.SetClock(func() time.Time { return now })

	require.NoError(t, tx.Start())
	assert.Equal(t, 2, hub.Subscriptions())

	hub.Inject(positionDelta(45.5, -122.75))
	now = now.Add(5 * time.Minute)
	hub.Inject(positionDelta(45.6, -122.75))
	assert.Len(t, tncs.frames, 1)

	now = now.Add(10 * time.Minute)
	hub.Inject(positionDelta(45.7, -122.75))
	assert.Len(t, tncs.frames, 2)

	tx.Stop()
	assert.Equal(t, 0, hub.Subscriptions())
	hub.Inject(positionDelta(45.8, -122.75))
	assert.Len(t, tncs.frames, 2)
}

func TestNewRejectsBadCallsign(t *testing.T) {
	cfg := enabledConfig()
	cfg.Callsign = "TOOLONGCALL"
	_, err := New(cfg, &fakeTNCs{}, telemetry.NewHub(), &fakeReporter{})
	assert.ErrorIs(t, err, ax25.ErrBadAddress)
}

func TestNewAcceptsSSIDInCallsign(t *testing.T) {
	cfg := enabledConfig()
	cfg.Callsign = "n0call-7"
	tx, err := New(cfg, &fakeTNCs{}, telemetry.NewHub(), &fakeReporter{})
	require.NoError(t, err)
	assert.Equal(t, "N0CALL-7", tx.Source().String())
}

func TestNewDisabledToleratesBadCallsign(t *testing.T) {
	for _, call := range []string{"", "TOOLONGCALL"} {
		t.Run(call, func(t *testing.T) {
			cfg := enabledConfig()
			cfg.Enabled = false
			cfg.Callsign = call
			_, err := New(cfg, &fakeTNCs{}, telemetry.NewHub(), &fakeReporter{})
			assert.NoError(t, err)
		})
	}
}
