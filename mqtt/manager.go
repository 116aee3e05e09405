package mqtt

import (
	"errors"
	"sort"
	"sync"

	"aprsgate/config"
	"aprsgate/telemetry"
)

// Manager manages multiple MQTT publishers. It is a telemetry.Sink for
// outbound deltas and feeds own-vessel updates to a single handler.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	handler    Handler
}

// NewManager creates a new MQTT manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
	}
}

// Add adds a publisher to the manager.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	m.publishers[pub.Name()] = pub
	handler := m.handler
	m.mu.Unlock()

	// Apply current settings to new publisher
	if handler != nil {
		pub.SetHandler(handler)
	}
}

// Remove removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	pub, exists := m.publishers[name]
	if exists {
		delete(m.publishers, name)
	}
	m.mu.Unlock()

	if exists {
		pub.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishers[name]
}

// List returns all publishers sorted by name.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	result := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		result = append(result, pub)
	}
	m.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// SetHandler sets the receiver of own-vessel updates on all publishers.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	for _, pub := range m.List() {
		pub.SetHandler(h)
	}
}

// StartAll starts all publishers that are configured as enabled.
// Returns the number of publishers successfully started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled && !pub.IsRunning() {
			logMQTT("Auto-starting MQTT publisher: %s", pub.Name())
			if err := pub.Start(); err != nil {
				logMQTT("Failed to auto-start %s: %v", pub.Name(), err)
			} else {
				logMQTT("Successfully started %s (%s)", pub.Name(), pub.Address())
				started++
			}
		}
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}

// PublishDelta implements telemetry.Sink.
func (m *Manager) PublishDelta(d telemetry.Delta) error {
	var errs []error
	for _, pub := range m.List() {
		if err := pub.PublishDelta(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishHealth sends TNC health to every running publisher.
func (m *Manager) PublishHealth(h HealthMessage) {
	for _, pub := range m.List() {
		if err := pub.PublishHealth(h); err != nil {
			logMQTT("Health publish failed on %s: %v", pub.Name(), err)
		}
	}
}

// PublishStatus sends the gateway status to every running publisher.
func (m *Manager) PublishStatus(status string) {
	for _, pub := range m.List() {
		if err := pub.PublishStatus(status); err != nil {
			logMQTT("Status publish failed on %s: %v", pub.Name(), err)
		}
	}
}

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			return true
		}
	}
	return false
}

// LoadFromConfig creates publishers from configuration.
func (m *Manager) LoadFromConfig(cfgs []config.MQTTConfig, ns string) {
	for i := range cfgs {
		m.Add(NewPublisher(&cfgs[i], ns))
	}
}

var _ telemetry.Sink = (*Manager)(nil)
