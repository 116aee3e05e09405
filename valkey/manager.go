package valkey

import (
	"errors"
	"sync"

	"aprsgate/config"
	"aprsgate/telemetry"
)

// Manager manages multiple Valkey publishers.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex

	onConnectCallback func()
}

// NewManager creates a new Valkey manager.
func NewManager() *Manager {
	return &Manager{
		publishers: make([]*Publisher, 0),
	}
}

// LoadFromConfig loads publishers from configuration.
func (m *Manager) LoadFromConfig(configs []config.ValkeyConfig, ns string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range configs {
		pub := NewPublisher(&configs[i], ns)
		pub.SetOnConnectCallback(m.onConnectCallback)
		m.publishers = append(m.publishers, pub)
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, pub := range m.publishers {
		if pub.config.Name == name {
			return pub
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Publisher, len(m.publishers))
	copy(result, m.publishers)
	return result
}

// StartAll starts all enabled publishers.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.config.Enabled {
			if err := pub.Start(); err != nil {
				debugLog("Failed to start Valkey %s: %v", pub.config.Name, err)
			} else {
				debugLog("Started Valkey %s at %s", pub.config.Name, pub.Address())
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

// AnyRunning returns true if any publisher is running.
func (m *Manager) AnyRunning() bool {
	for _, pub := range m.List() {
		if pub.IsRunning() {
			return true
		}
	}
	return false
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

// PublishStation stores a station snapshot on all running publishers.
func (m *Manager) PublishStation(msg StationMessage) {
	for _, pub := range m.List() {
		if err := pub.PublishStation(msg); err != nil {
			debugLog("Valkey station publish error (%s): %v", pub.config.Name, err)
		}
	}
}

// PublishHealth publishes TNC health status to all running Valkey publishers.
func (m *Manager) PublishHealth(msg HealthMessage) {
	for _, pub := range m.List() {
		if err := pub.PublishHealth(msg); err != nil {
			debugLog("Valkey health publish error (%s): %v", pub.config.Name, err)
		}
	}
}

// PublishStatus stores the gateway status on all running publishers.
func (m *Manager) PublishStatus(status string) {
	for _, pub := range m.List() {
		if err := pub.PublishStatus(status); err != nil {
			debugLog("Valkey status publish error (%s): %v", pub.config.Name, err)
		}
	}
}

// SetOnConnectCallback sets the callback invoked after connection is established.
func (m *Manager) SetOnConnectCallback(callback func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onConnectCallback = callback
	for _, pub := range m.publishers {
		pub.SetOnConnectCallback(callback)
	}
}

var _ telemetry.Sink = (*Manager)(nil)
