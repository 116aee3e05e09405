// Package valkey stores station snapshots, TNC health and the gateway
// status in Valkey/Redis and publishes deltas over Pub/Sub.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"aprsgate/config"
	"aprsgate/logging"
	"aprsgate/namespace"
	"aprsgate/telemetry"
)

func debugLog(format string, args ...interface{}) {
	logging.DebugLog("valkey", format, args...)
}

// StationMessage is the snapshot stored for each heard station.
type StationMessage struct {
	Factory   string    `json:"factory"`
	Callsign  string    `json:"callsign"`
	Address   string    `json:"address"`
	TNC       string    `json:"tnc"`
	Symbol    string    `json:"symbol,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Path      []string  `json:"path,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Weather   bool      `json:"weather"`
	LastHeard time.Time `json:"last_heard"`
}

// HealthMessage represents a TNC health status message stored in Valkey.
type HealthMessage struct {
	Factory   string    `json:"factory"`
	TNC       string    `json:"tnc"`
	Address   string    `json:"address"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusMessage holds the gateway status line.
type StatusMessage struct {
	Factory   string    `json:"factory"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher handles writes to one Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	ns      *namespace.Builder
	client  *redis.Client
	running bool
	mu      sync.RWMutex

	onConnectCallback func()
}

// NewPublisher creates a new Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig, ns string) *Publisher {
	return &Publisher{
		config: cfg,
		ns:     namespace.New(ns, cfg.Selector),
	}
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	// Check if already running (quick check with lock)
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Create client and test connection WITHOUT holding the lock
	client := redis.NewClient(opts)

	debugLog("Attempting to connect to Valkey at %s (DB: %d, TLS: %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		debugLog("Valkey connection failed: %v", err)
		client.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}

	debugLog("Successfully connected to Valkey at %s", p.config.Address)

	p.mu.Lock()
	// Double-check we're not already running (race condition check)
	if p.running {
		p.mu.Unlock()
		client.Close()
		return nil
	}
	p.client = client
	p.running = true
	cb := p.onConnectCallback
	p.mu.Unlock()

	// Republish current state
	if cb != nil {
		go cb()
	}
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// SetOnConnectCallback sets the callback invoked after connection is established.
func (p *Publisher) SetOnConnectCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectCallback = callback
}

func (p *Publisher) activeClient() *redis.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil
	}
	return p.client
}

// PublishDelta publishes the delta on the deltas channel when change
// publishing is enabled.
func (p *Publisher) PublishDelta(d telemetry.Delta) error {
	client := p.activeClient()
	if client == nil || !p.config.PublishChanges {
		return nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Publish(ctx, p.ns.ValkeyDeltaChannel(), data).Err(); err != nil {
		return fmt.Errorf("failed to publish delta: %w", err)
	}
	return nil
}

// PublishStation stores a station snapshot with the configured TTL.
func (p *Publisher) PublishStation(msg StationMessage) error {
	client := p.activeClient()
	if client == nil {
		return nil
	}
	msg.Factory = p.ns.ValkeyFactory()
	return p.set(client, p.ns.ValkeyStationKey(msg.Callsign), msg, p.config.KeyTTL)
}

// PublishHealth stores TNC health.
func (p *Publisher) PublishHealth(msg HealthMessage) error {
	client := p.activeClient()
	if client == nil {
		return nil
	}
	msg.Factory = p.ns.ValkeyFactory()
	return p.set(client, p.ns.ValkeyHealthKey(msg.TNC), msg, p.config.KeyTTL)
}

// PublishStatus stores the gateway status line. It never expires.
func (p *Publisher) PublishStatus(status string) error {
	client := p.activeClient()
	if client == nil {
		return nil
	}
	msg := StatusMessage{Factory: p.ns.ValkeyFactory(), Status: status, Timestamp: time.Now().UTC()}
	return p.set(client, p.ns.ValkeyStatusKey(), msg, 0)
}

func (p *Publisher) set(client *redis.Client, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}
