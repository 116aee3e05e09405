package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"aprsgate/beacon"
	"aprsgate/config"
	"aprsgate/decoder"
	"aprsgate/kafka"
	"aprsgate/logging"
	"aprsgate/mqtt"
	"aprsgate/presence"
	"aprsgate/telemetry"
	"aprsgate/tnc"
	"aprsgate/valkey"
)

// DebounceDelay is how long status refreshes triggered by traffic are
// coalesced.
const DebounceDelay = 3 * time.Second

// StatusNoTNCs is the status reported when no TNC is configured.
const StatusNoTNCs = "No TNC connections configured"

// LogFunc is the logging callback signature. Engine never imports the console logger.
type LogFunc func(format string, args ...interface{})

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	LogFunc    LogFunc // status lines
	ErrorFunc  LogFunc // connection errors

	// Clock drives reconnects and the status debouncer. Nil means the
	// wall clock.
	Clock tnc.Clock
	// TNCOptions are appended to the TNC manager options.
	TNCOptions []tnc.Option
}

// Engine wires the TNC connections, the beacon, the decoder and the
// telemetry transports together and owns the gateway status.
type Engine struct {
	cfg        *config.Config
	configPath string
	logFn      LogFunc
	errFn      LogFunc
	clock      tnc.Clock
	tncOpts    []tnc.Option

	tncMgr    *tnc.Manager
	presence  *presence.Table
	hub       *telemetry.Hub
	beacon    *beacon.Transmitter
	decoder   *decoder.Decoder
	mqttMgr   *mqtt.Manager
	valkeyMgr *valkey.Manager
	kafkaMgr  *kafka.Manager
	monitor   *logging.MonitorLogger
	debounce  *debouncer

	Events *EventBus

	statusMu  sync.RWMutex
	status    string
	statusAt  time.Time
	configErr error

	stationsMu sync.RWMutex
	stations   map[string]Station // by address
	ownPos     *telemetry.Position
	unsubOwn   func()

	lifeMu  sync.Mutex
	started bool
	stopped bool
}

// New creates a new Engine. Call Start() to connect.
func New(c Config) *Engine {
	nop := func(string, ...interface{}) {}
	logFn, errFn := c.LogFunc, c.ErrorFunc
	if logFn == nil {
		logFn = nop
	}
	if errFn == nil {
		errFn = logFn
	}
	clock := c.Clock
	if clock == nil {
		clock = tnc.SystemClock()
	}
	e := &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		logFn:      logFn,
		errFn:      errFn,
		clock:      clock,
		tncOpts:    c.TNCOptions,
		presence:   presence.NewTable(),
		hub:        telemetry.NewHub(),
		mqttMgr:    mqtt.NewManager(),
		valkeyMgr:  valkey.NewManager(),
		kafkaMgr:   kafka.NewManager(c.AppConfig.Namespace),
		Events:     NewEventBus(),
		stations:   make(map[string]Station),
	}
	e.hub.SetClock(clock.Now)
	e.debounce = newDebouncer(clock, DebounceDelay, e.refreshStatus)
	return e
}

// Start creates the managers, wires callbacks, and connects every enabled
// endpoint and transport. TNC configuration errors are reported through
// the status; the rest of the engine still runs.
func (e *Engine) Start() error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.started || e.stopped {
		return nil
	}
	e.started = true
	cfg := e.cfg

	// Telemetry transports
	e.mqttMgr.LoadFromConfig(cfg.MQTT, cfg.Namespace)
	e.mqttMgr.SetHandler(e.hub.Inject)
	e.valkeyMgr.LoadFromConfig(cfg.Valkey, cfg.Namespace)
	e.valkeyMgr.SetOnConnectCallback(e.republishToValkey)
	e.kafkaMgr.LoadFromConfig(cfg.Kafka)
	e.hub.AddSink(e.mqttMgr)
	e.hub.AddSink(e.valkeyMgr)
	e.hub.AddSink(e.kafkaMgr)

	if cfg.Log.MonitorPath != "" {
		mon, err := logging.NewMonitorLogger(cfg.Log.MonitorPath, cfg.Log.TimeFormat)
		if err != nil {
			e.errFn("Monitor log disabled: %v", err)
		} else {
			e.monitor = mon
		}
	}

	// TNC connections
	opts := append([]tnc.Option{tnc.WithClock(e.clock)}, e.tncOpts...)
	e.tncMgr = tnc.NewManager(opts...)

	e.decoder = decoder.New(e.hub, e.presence, e)
	e.decoder.SetClock(e.clock.Now)
	e.decoder.SetOnReport(e.recordStation)

	e.tncMgr.SetOnStateChange(e.onTNCState)
	e.tncMgr.SetOnError(e.ReportError)
	e.tncMgr.SetOnFrame(e.decoder.HandleFrame)

	// Beacon. A bad source address only disables transmission.
	tx, beaconErr := beacon.New(cfg.Beacon, e.tncMgr, e.hub, e)
	if beaconErr != nil {
		e.errFn("Beacon disabled: %v", beaconErr)
	} else {
		e.beacon = tx
		e.beacon.SetOnSent(func(payload string, targets []string) {
			e.emit(EventBeaconSent, BeaconEvent{Payload: payload, Targets: targets})
		})
		if e.monitor != nil {
			e.beacon.SetMonitor(e.monitor)
		}
		if err := e.beacon.Start(); err != nil {
			return err
		}
	}
	if e.monitor != nil {
		e.decoder.SetMonitor(e.monitor)
	}
	unsub, err := e.hub.Subscribe(telemetry.SelfContext, telemetry.PathPosition, 0, e.trackOwnPosition)
	if err != nil {
		return err
	}
	e.unsubOwn = unsub

	if err := e.startTNCs(); err != nil {
		e.statusMu.Lock()
		e.configErr = err
		e.statusMu.Unlock()
		if errors.Is(err, config.ErrNoTNCs) {
			e.SetStatus(StatusNoTNCs)
		} else {
			e.SetStatus(err.Error())
		}
	} else {
		e.refreshStatus()
	}
	if beaconErr != nil {
		e.SetStatus(beaconErr.Error())
	}

	go e.mqttMgr.StartAll()
	go e.valkeyMgr.StartAll()
	e.kafkaMgr.ConnectEnabled()
	return nil
}

func (e *Engine) startTNCs() error {
	if err := e.cfg.ValidateTNCs(); err != nil {
		return err
	}
	for _, t := range e.cfg.EnabledTNCs() {
		if err := e.tncMgr.Add(t); err != nil {
			return err
		}
	}
	n, err := e.tncMgr.Start()
	if err != nil {
		return err
	}
	logging.DebugLog("engine", "started %d TNC connection(s)", n)
	return nil
}

// Stop shuts everything down. No status or event is produced afterwards
// by the TNC connections.
func (e *Engine) Stop() {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return
	}
	e.stopped = true
	started := e.started
	e.lifeMu.Unlock()
	if !started {
		return
	}

	if e.beacon != nil {
		e.beacon.Stop()
	}
	if e.unsubOwn != nil {
		e.unsubOwn()
	}
	e.debounce.Stop()
	e.tncMgr.Stop()
	e.mqttMgr.StopAll()
	e.valkeyMgr.StopAll()
	e.kafkaMgr.StopAll()
	if e.monitor != nil {
		e.monitor.Close()
	}
	e.presence.Clear()
	e.stationsMu.Lock()
	e.stations = make(map[string]Station)
	e.stationsMu.Unlock()
}

func (e *Engine) onTNCState(info tnc.Info) {
	e.emit(EventTNCStateChanged, TNCEvent{Info: info})
	e.refreshStatus()
	e.publishHealth(info)
}

func (e *Engine) publishHealth(info tnc.Info) {
	now := e.clock.Now().UTC()
	e.mqttMgr.PublishHealth(mqtt.HealthMessage{
		Name:      info.Name,
		Address:   info.Address,
		Status:    info.Status.String(),
		Online:    info.Online,
		Error:     info.LastError,
		Timestamp: now.Format(time.RFC3339),
	})
	e.valkeyMgr.PublishHealth(valkey.HealthMessage{
		TNC:       info.Name,
		Address:   info.Address,
		Online:    info.Online,
		Status:    info.Status.String(),
		Error:     info.LastError,
		Timestamp: now,
	})
	e.kafkaMgr.PublishHealth(kafka.HealthMessage{
		TNC:       info.Name,
		Address:   info.Address,
		Online:    info.Online,
		Status:    info.Status.String(),
		Error:     info.LastError,
		Timestamp: now.Format(time.RFC3339),
	})
}

// republishToValkey restores health, status and station snapshots after a
// Valkey server (re)connects.
func (e *Engine) republishToValkey() {
	if e.tncMgr != nil {
		for _, info := range e.tncMgr.Connections() {
			e.publishHealth(info)
		}
	}
	status, _ := e.Status()
	e.valkeyMgr.PublishStatus(status)
	for _, st := range e.Stations() {
		if st.Callsign != "" {
			e.valkeyMgr.PublishStation(st.valkeyMessage())
		}
	}
}

func (e *Engine) trackOwnPosition(d telemetry.Delta) {
	v, ok := d.Lookup(telemetry.PathPosition)
	if !ok {
		return
	}
	pos, ok := telemetry.PositionFrom(v)
	if !ok {
		return
	}
	e.stationsMu.Lock()
	e.ownPos = &pos
	e.stationsMu.Unlock()
}

// OwnPosition returns the last own-vessel position seen on the bus.
func (e *Engine) OwnPosition() (telemetry.Position, bool) {
	e.stationsMu.RLock()
	defer e.stationsMu.RUnlock()
	if e.ownPos == nil {
		return telemetry.Position{}, false
	}
	return *e.ownPos, true
}

// Publish sends a delta to the telemetry bus.
func (e *Engine) Publish(d telemetry.Delta) error {
	return e.hub.Publish(d)
}

// Inject delivers a delta to local subscribers as if it came from a
// transport.
func (e *Engine) Inject(d telemetry.Delta) {
	e.hub.Inject(d)
}

// TNCs returns a snapshot of every started connection.
func (e *Engine) TNCs() []tnc.Info {
	if e.tncMgr == nil {
		return nil
	}
	return e.tncMgr.Connections()
}

// TNC returns one connection by name or address.
func (e *Engine) TNC(name string) (tnc.Info, error) {
	if e.tncMgr != nil {
		if info, ok := e.tncMgr.Get(name); ok {
			return info, nil
		}
	}
	return tnc.Info{}, fmt.Errorf("%w: TNC '%s'", ErrNotFound, name)
}

// ConfigError returns the TNC configuration error found at start, if any.
func (e *Engine) ConfigError() error {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.configErr
}

// BeaconStats returns the transmitter counters.
func (e *Engine) BeaconStats() beacon.Stats {
	if e.beacon == nil {
		return beacon.Stats{}
	}
	return e.beacon.Stats()
}

// DecoderStats returns the decoder counters.
func (e *Engine) DecoderStats() decoder.Stats {
	if e.decoder == nil {
		return decoder.Stats{}
	}
	return e.decoder.Stats()
}

// GetConfig returns the application configuration.
func (e *Engine) GetConfig() *config.Config { return e.cfg }

// saveConfig is a helper that saves and unlocks a config locked by the caller.
func (e *Engine) saveConfig() error {
	return e.cfg.UnlockAndSave(e.configPath)
}

func (e *Engine) emit(t EventType, payload interface{}) {
	e.Events.Emit(Event{Type: t, Timestamp: e.clock.Now(), Payload: payload})
}
