package engine

import (
	"context"
	"io"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprsgate/ax25"
	"aprsgate/beacon"
	"aprsgate/config"
	"aprsgate/kiss"
	"aprsgate/telemetry"
	"aprsgate/tnc"
)

type manualTimer struct {
	c       *manualClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// manualClock only fires timers from Advance.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) tnc.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

type harness struct {
	e       *Engine
	clk     *manualClock
	servers chan net.Conn
	events  *eventLog
}

func newHarness(t *testing.T, cfg *config.Config, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{clk: newManualClock(), servers: make(chan net.Conn, 4), events: &eventLog{}}
	dialer := tnc.DialerFunc(func(ctx context.Context, ep config.TNCConfig) (io.ReadWriteCloser, error) {
		client, server := net.Pipe()
		h.servers <- server
		return client, nil
	})
	c := Config{
		AppConfig:  cfg,
		ConfigPath: filepath.Join(t.TempDir(), "config.yaml"),
		Clock:      h.clk,
		TNCOptions: []tnc.Option{tnc.WithDialer(dialer), tnc.WithIdleTimeout(0)},
	}
	for _, opt := range opts {
		opt(&c)
	}
	h.e = New(c)
	h.e.Events.Subscribe(h.events.add)
	t.Cleanup(h.e.Stop)
	return h
}

func (h *harness) server(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-h.servers:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no dial")
		return nil
	}
}

func (h *harness) status() string {
	s, _ := h.e.Status()
	return s
}

func gatewayConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.TNCs = []config.TNCConfig{{Name: "direwolf", Host: "127.0.0.1", Port: 8001, Transmit: true}}
	cfg.Beacon.Enabled = true
	cfg.Beacon.Callsign = "N0CALL"
	cfg.Beacon.Note = "hello"
	return cfg
}

const onlineNoStations = "1 TNC(s) online (127.0.0.1:8001), 0 station(s) heard"

func TestNoTNCsConfigured(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	require.NoError(t, h.e.Start())

	assert.Equal(t, StatusNoTNCs, h.status())
	assert.ErrorIs(t, h.e.ConfigError(), config.ErrNoTNCs)
	assert.Empty(t, h.e.TNCs())
	assert.Len(t, h.events.ofType(EventStatus), 1)
}

func TestInvalidTNCLeavesEngineRunning(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TNCs = []config.TNCConfig{{Name: "broken"}}
	cfg.Beacon.Enabled = true
	h := newHarness(t, cfg)
	require.NoError(t, h.e.Start())

	assert.Contains(t, h.status(), "host or device is required")
	assert.Empty(t, h.e.TNCs())

	// The bus still works: a position reaches the beacon, which finds no
	// transmitter.
	h.e.Inject(telemetry.NewDelta(telemetry.SelfContext, h.clk.Now(),
		telemetry.PathValue{Path: telemetry.PathPosition, Value: telemetry.Position{Latitude: 45.5, Longitude: -122.75}}))
	assert.Equal(t, "TX =4530.00N/12245.00W/Y https://signalk.org", h.status())
}

func TestBeaconEndToEnd(t *testing.T) {
	h := newHarness(t, gatewayConfig())
	require.NoError(t, h.e.Start())
	server := h.server(t)

	require.Eventually(t, func() bool { return h.status() == onlineNoStations }, 2*time.Second, 5*time.Millisecond)
	require.NotEmpty(t, h.events.ofType(EventTNCStateChanged))

	payload := "=4530.00N/12245.00W/Y hello"
	raw, err := ax25.NewUIFrame(beacon.Destination, ax25.MustParseAddress("N0CALL"), beacon.Path, []byte(payload)).Encode()
	require.NoError(t, err)
	want := kiss.Encapsulate(0, raw)[1:]

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(want))
		if _, err := io.ReadFull(server, buf); err == nil {
			got <- buf
		}
	}()

	h.e.Inject(telemetry.NewDelta(telemetry.SelfContext, h.clk.Now(),
		telemetry.PathValue{Path: telemetry.PathPosition, Value: telemetry.Position{Latitude: 45.5, Longitude: -122.75}}))

	select {
	case b := <-got:
		assert.Equal(t, want, b)
	case <-time.After(2 * time.Second):
		t.Fatal("beacon not written")
	}

	assert.Equal(t, "TX "+payload, h.status())
	sent := h.events.ofType(EventBeaconSent)
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"127.0.0.1:8001"}, sent[0].Payload.(BeaconEvent).Targets)
	assert.Equal(t, uint64(1), h.e.BeaconStats().Sent)

	pos, ok := h.e.OwnPosition()
	require.True(t, ok)
	assert.Equal(t, 45.5, pos.Latitude)

	require.True(t, h.e.debounce.Pending())
	h.clk.Advance(DebounceDelay)
	assert.Equal(t, onlineNoStations, h.status())
}

func TestInboundWeatherRecordsStation(t *testing.T) {
	h := newHarness(t, gatewayConfig())
	require.NoError(t, h.e.Start())
	server := h.server(t)
	require.Eventually(t, func() bool { return h.status() == onlineNoStations }, 2*time.Second, 5*time.Millisecond)

	info := "!4903.50N/07201.75W_220/004g005t077r000p000P000h50b09900wRSW"
	raw, err := ax25.NewUIFrame(ax25.MustParseAddress("APRS"), ax25.MustParseAddress("N0CALL-9"),
		[]ax25.Address{ax25.MustParseAddress("WIDE1-1")}, []byte(info)).Encode()
	require.NoError(t, err)
	go server.Write(kiss.Encapsulate(0, raw))

	require.Eventually(t, func() bool { return h.e.debounce.Pending() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), h.e.DecoderStats().Published)
	assert.Contains(t, h.status(), "RX N0CALL-9>APRS,WIDE1-1:!4903.50N")

	st, err := h.e.Station("n0call")
	require.NoError(t, err)
	assert.Equal(t, "N0CALL-9", st.Address)
	assert.Equal(t, "127.0.0.1:8001", st.TNC)
	assert.True(t, st.Weather)
	require.NotNil(t, st.Latitude)
	assert.InDelta(t, 49.058333, *st.Latitude, 1e-5)
	assert.Equal(t, []string{"WIDE1-1"}, st.Path)
	assert.Len(t, h.events.ofType(EventStationHeard), 1)

	_, err = h.e.Station("N1CALL")
	assert.ErrorIs(t, err, ErrNotFound)

	h.clk.Advance(DebounceDelay)
	assert.Equal(t, "1 TNC(s) online (127.0.0.1:8001), 1 station(s) heard", h.status())

	// Out of the presence window the station is no longer listed.
	h.clk.Advance(31 * time.Minute)
	assert.Empty(t, h.e.Stations())
}

func TestStopSilencesEngine(t *testing.T) {
	h := newHarness(t, gatewayConfig())
	require.NoError(t, h.e.Start())
	server := h.server(t)
	require.Eventually(t, func() bool { return h.status() == onlineNoStations }, 2*time.Second, 5*time.Millisecond)

	h.e.Debounce()
	h.e.Stop()
	n := h.events.len()
	before := h.status()

	server.Close()
	h.clk.Advance(time.Hour)

	assert.Equal(t, n, h.events.len())
	assert.Equal(t, before, h.status())
	assert.Empty(t, h.e.Stations())
	h.e.Stop()
}

func TestStopWaitsForDebouncedRefresh(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var block atomic.Bool
	var once sync.Once
	h := newHarness(t, config.DefaultConfig(), func(c *Config) {
		c.LogFunc = func(string, ...interface{}) {
			if block.Load() {
				once.Do(func() {
					close(entered)
					<-release
				})
			}
		}
	})
	require.NoError(t, h.e.Start())

	h.e.Debounce()
	block.Store(true)
	fired := make(chan struct{})
	go func() {
		h.clk.Advance(DebounceDelay)
		close(fired)
	}()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not run")
	}

	stopped := make(chan struct{})
	go func() {
		h.e.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a refresh was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	n := h.events.len()
	<-fired
	assert.Equal(t, n, h.events.len(), "no event after Stop returns")
}

func TestBeaconCallsignDoesNotFailStart(t *testing.T) {
	t.Run("disabled without callsign", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Beacon.Callsign = ""
		require.NoError(t, cfg.Validate())
		h := newHarness(t, cfg)
		require.NoError(t, h.e.Start())
		assert.Equal(t, StatusNoTNCs, h.status())
	})

	t.Run("ssid written in callsign", func(t *testing.T) {
		cfg := gatewayConfig()
		cfg.Beacon.Callsign = "N0CALL-9"
		require.NoError(t, cfg.Validate())
		h := newHarness(t, cfg)
		require.NoError(t, h.e.Start())
		h.server(t)
		assert.Equal(t, "N0CALL-9", h.e.BeaconStats().Source)
	})

	t.Run("enabled with invalid callsign", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Beacon.Enabled = true
		cfg.Beacon.Callsign = "TOOLONGCALL"
		h := newHarness(t, cfg)
		require.NoError(t, h.e.Start())
		assert.Contains(t, h.status(), "beacon source")
		assert.Equal(t, beacon.Stats{}, h.e.BeaconStats())

		// Inbound traffic still flows without a transmitter.
		h.e.Inject(telemetry.NewDelta(telemetry.SelfContext, h.clk.Now(),
			telemetry.PathValue{Path: telemetry.PathPosition, Value: telemetry.Position{Latitude: 45.5, Longitude: -122.75}}))
		_, ok := h.e.OwnPosition()
		assert.True(t, ok)
	})
}

func TestTNCLookup(t *testing.T) {
	h := newHarness(t, gatewayConfig())
	require.NoError(t, h.e.Start())
	h.server(t)

	info, err := h.e.TNC("direwolf")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8001", info.Address)

	_, err = h.e.TNC("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDebouncerCoalesces(t *testing.T) {
	clk := newManualClock()
	calls := 0
	d := newDebouncer(clk, DebounceDelay, func() { calls++ })

	for i := 0; i < 10; i++ {
		d.Trigger()
	}
	assert.True(t, d.Pending())
	clk.Advance(DebounceDelay - time.Millisecond)
	assert.Equal(t, 0, calls)
	clk.Advance(time.Millisecond)
	assert.Equal(t, 1, calls)
	assert.False(t, d.Pending())

	d.Trigger()
	d.Stop()
	clk.Advance(DebounceDelay)
	assert.Equal(t, 1, calls)
	d.Trigger()
	assert.False(t, d.Pending())
}

func TestWebUsers(t *testing.T) {
	h := newHarness(t, config.DefaultConfig())
	assert.False(t, h.e.WebAuthRequired())

	require.NoError(t, h.e.SetWebUser("admin", "correct horse"))
	assert.True(t, h.e.WebAuthRequired())
	assert.True(t, h.e.CheckWebUser("admin", "correct horse"))
	assert.False(t, h.e.CheckWebUser("admin", "wrong password"))
	assert.False(t, h.e.CheckWebUser("nobody", "correct horse"))

	loaded, err := config.Load(h.e.configPath)
	require.NoError(t, err)
	require.Len(t, loaded.Web.Users, 1)
	assert.NotEqual(t, "correct horse", loaded.Web.Users[0].PasswordHash)

	tests := []struct{ user, pass string }{
		{"", "long enough"},
		{"a:b", "long enough"},
		{"admin", "short"},
	}
	for _, tc := range tests {
		t.Run(tc.user+"/"+tc.pass, func(t *testing.T) {
			assert.ErrorIs(t, h.e.SetWebUser(tc.user, tc.pass), ErrInvalidInput)
		})
	}
}
