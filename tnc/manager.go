package tnc

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"aprsgate/config"
	"aprsgate/logging"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectDelay = 10 * time.Second
	DefaultIdleTimeout    = 10 * time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the clock used for reconnect timers.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithDialer replaces the TCP/serial dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) { m.connectTimeout = d }
}

func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) { m.reconnectDelay = d }
}

// WithIdleTimeout sets the idle timeout for endpoints that do not set
// their own. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// Manager owns every TNC connection.
type Manager struct {
	mu        sync.RWMutex
	endpoints []config.TNCConfig
	conns     []*Connection
	started   bool
	stopped   bool

	cbMu          sync.RWMutex
	onStateChange func(Info)
	onError       func(addr string, err error)
	onFrame       func(addr string, frame []byte)
	cbWG          sync.WaitGroup

	clock          Clock
	dialer         Dialer
	connectTimeout time.Duration
	reconnectDelay time.Duration
	idleTimeout    time.Duration

	wg sync.WaitGroup
}

// NewManager creates a manager with no endpoints.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		clock:          realClock{},
		dialer:         defaultDialer{},
		connectTimeout: DefaultConnectTimeout,
		reconnectDelay: DefaultReconnectDelay,
		idleTimeout:    DefaultIdleTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetOnStateChange sets the callback fired on every state transition.
func (m *Manager) SetOnStateChange(fn func(Info)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onStateChange = fn
}

// SetOnError sets the callback that receives reported connection errors.
func (m *Manager) SetOnError(fn func(addr string, err error)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onError = fn
}

// SetOnFrame sets the callback that receives inbound frames: the type byte
// followed by the escaped payload, delimiters removed. Frames from one
// connection arrive in order on that connection's reader goroutine.
func (m *Manager) SetOnFrame(fn func(addr string, frame []byte)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.onFrame = fn
}

// Callbacks are copied under cbMu and counted in cbWG so Stop can wait out
// any still running.
func (m *Manager) emitState(c *Connection) {
	m.cbMu.RLock()
	fn := m.onStateChange
	if fn != nil {
		m.cbWG.Add(1)
	}
	m.cbMu.RUnlock()
	if fn != nil {
		defer m.cbWG.Done()
		fn(c.Info())
	}
}

func (m *Manager) emitError(addr string, err error) {
	m.cbMu.RLock()
	fn := m.onError
	if fn != nil {
		m.cbWG.Add(1)
	}
	m.cbMu.RUnlock()
	if fn != nil {
		defer m.cbWG.Done()
		fn(addr, err)
	}
}

func (m *Manager) emitFrame(addr string, frame []byte) {
	m.cbMu.RLock()
	fn := m.onFrame
	if fn != nil {
		m.cbWG.Add(1)
	}
	m.cbMu.RUnlock()
	if fn != nil {
		defer m.cbWG.Done()
		fn(addr, frame)
	}
}

// Add registers an endpoint. Endpoints must be added before Start.
func (m *Manager) Add(cfg config.TNCConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return fmt.Errorf("tnc: cannot add %s after start", cfg.Address())
	}
	m.endpoints = append(m.endpoints, cfg)
	return nil
}

// Start creates a connection for every enabled endpoint and dials it.
// It returns the number of connections started.
func (m *Manager) Start() (int, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return 0, ErrStopped
	}
	if m.started {
		n := len(m.conns)
		m.mu.Unlock()
		return n, nil
	}
	m.started = true
	for _, ep := range m.endpoints {
		if !ep.IsEnabled() {
			continue
		}
		m.conns = append(m.conns, newConnection(m, ep))
	}
	conns := append([]*Connection(nil), m.conns...)
	m.mu.Unlock()

	for _, c := range conns {
		c.connect()
	}
	return len(conns), nil
}

// Stop detaches callbacks, cancels timers and dials, closes every stream
// and waits for the connection goroutines. No callback fires once Stop
// returns. Stop must not be called from a callback.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	conns := append([]*Connection(nil), m.conns...)
	m.mu.Unlock()

	m.cbMu.Lock()
	m.onStateChange = nil
	m.onError = nil
	m.onFrame = nil
	m.cbMu.Unlock()

	for _, c := range conns {
		c.stop()
	}
	m.wg.Wait()
	m.cbWG.Wait()
	logging.DebugLog("tnc", "stopped %d connection(s)", len(conns))
}

func (m *Manager) connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Connection(nil), m.conns...)
}

// Broadcast writes frame to every transmit-enabled connection that is
// online and returns the addresses written. Other connections are skipped.
// A write error is handled by that connection's error path.
func (m *Manager) Broadcast(frame []byte) []string {
	var sent []string
	for _, c := range m.connections() {
		if !c.cfg.Transmit || !c.Online() {
			continue
		}
		if err := c.Send(frame); err != nil {
			if !errors.Is(err, ErrNotOnline) {
				logging.DebugError("tnc", "broadcast", err)
			}
			continue
		}
		sent = append(sent, c.addr)
	}
	return sent
}

// Connections returns a snapshot of every started connection.
func (m *Manager) Connections() []Info {
	conns := m.connections()
	out := make([]Info, len(conns))
	for i, c := range conns {
		out[i] = c.Info()
	}
	return out
}

// Get returns the connection with the given name or address.
func (m *Manager) Get(name string) (Info, bool) {
	for _, c := range m.connections() {
		if c.cfg.Name == name || c.addr == name {
			return c.Info(), true
		}
	}
	return Info{}, false
}

// OnlineAddresses lists the addresses of online connections in
// configuration order.
func (m *Manager) OnlineAddresses() []string {
	var out []string
	for _, c := range m.connections() {
		if c.Online() {
			out = append(out, c.addr)
		}
	}
	return out
}
