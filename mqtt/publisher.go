// Package mqtt carries the telemetry bus over MQTT: own-vessel position and
// navigation state come in, deltas, TNC health and status go out.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"aprsgate/config"
	"aprsgate/logging"
	"aprsgate/namespace"
	"aprsgate/telemetry"
)

func logMQTT(format string, args ...interface{}) {
	logging.DebugLog("mqtt", format, args...)
}

// SelfPaths are the own-vessel paths received from the broker.
var SelfPaths = []string{telemetry.PathPosition, telemetry.PathNavState}

// MaxInboundQueueSize is the maximum number of pending inbound updates per
// publisher. Updates beyond it are dropped.
const MaxInboundQueueSize = 100

// Handler receives own-vessel deltas decoded from the broker.
type Handler func(telemetry.Delta)

// Publisher handles one MQTT broker connection.
type Publisher struct {
	config  *config.MQTTConfig
	ns      *namespace.Builder
	client  pahomqtt.Client
	running bool
	mu      sync.RWMutex

	// Track last retained values to detect changes
	lastValues map[string]string
	lastMu     sync.RWMutex

	handler Handler

	// Single inbound worker keeps updates in arrival order.
	inbound  chan telemetry.Delta
	wg       sync.WaitGroup
	stopChan chan struct{}

	now func() time.Time
}

// HealthMessage is the retained TNC health payload.
type HealthMessage struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	Online    bool   `json:"online"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusMessage is the retained gateway status payload.
type StatusMessage struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// NewPublisher creates a new MQTT publisher for a single broker.
func NewPublisher(cfg *config.MQTTConfig, ns string) *Publisher {
	return &Publisher{
		config:     cfg,
		ns:         namespace.New(ns, cfg.Selector),
		lastValues: make(map[string]string),
		inbound:    make(chan telemetry.Delta, MaxInboundQueueSize),
		stopChan:   make(chan struct{}),
		now:        time.Now,
	}
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// SetHandler sets the receiver of own-vessel updates.
func (p *Publisher) SetHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// Start connects to the MQTT broker and subscribes to own-vessel topics.
func (p *Publisher) Start() error {
	// Quick check if already running
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Build options WITHOUT holding the lock
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	// Subscriptions are not persisted by the broker for clean sessions.
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		if p.IsRunning() {
			p.subscribeSelfTopics(c)
		}
	})

	client := pahomqtt.NewClient(opts)
	logMQTT("Attempting to connect to MQTT broker %s", p.Address())

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logMQTT("MQTT connection timeout")
		return fmt.Errorf("mqtt %s: connection timeout", p.config.Name)
	}
	if token.Error() != nil {
		logMQTT("MQTT connection error: %v", token.Error())
		return fmt.Errorf("mqtt %s: %w", p.config.Name, token.Error())
	}
	logMQTT("Successfully connected to MQTT broker %s", p.Address())

	if !p.attach(client) {
		client.Disconnect(100)
	}
	return nil
}

// attach takes ownership of a connected client. It reports false when the
// publisher was already running.
func (p *Publisher) attach(client pahomqtt.Client) bool {
	p.mu.Lock()
	// Double-check we're not already running (race condition check)
	if p.running {
		p.mu.Unlock()
		return false
	}
	p.client = client
	p.running = true
	stop := p.stopChan
	inbound := p.inbound
	p.mu.Unlock()

	// Clear last values to force republish of all values
	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()

	p.wg.Add(1)
	go p.inboundWorker(stop, inbound)

	p.subscribeSelfTopics(client)
	return true
}

func (p *Publisher) inboundWorker(stop <-chan struct{}, inbound <-chan telemetry.Delta) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case d := <-inbound:
			p.mu.RLock()
			h := p.handler
			p.mu.RUnlock()
			if h != nil {
				h(d)
			}
		}
	}
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}

	p.running = false
	client := p.client
	p.client = nil

	// Save old channels and create new ones while holding lock
	oldStopChan := p.stopChan
	p.stopChan = make(chan struct{})
	p.inbound = make(chan telemetry.Delta, MaxInboundQueueSize)
	p.mu.Unlock()

	close(oldStopChan)

	// Wait for the worker to finish (with timeout)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logMQTT("Timeout waiting for inbound worker to stop")
	}

	// Disconnect OUTSIDE the lock to prevent blocking
	client.Disconnect(500)
}

// subscribeSelfTopics subscribes to the own-vessel value topics.
func (p *Publisher) subscribeSelfTopics(client pahomqtt.Client) {
	for _, path := range SelfPaths {
		topic := p.ns.MQTTSelfTopic(path)
		token := client.Subscribe(topic, 1, p.handleSelfMessage)
		if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
			if token.Error() != nil {
				logMQTT("Subscribe error for %s: %v", topic, token.Error())
			} else {
				logMQTT("Subscribe timeout for %s", topic)
			}
			continue
		}
		logMQTT("Subscribed to: %s", topic)
	}
}

// handleSelfMessage turns an own-vessel value message into a delta and
// queues it for the inbound worker.
func (p *Publisher) handleSelfMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	d, err := p.decodeSelfMessage(msg.Topic(), msg.Payload())
	if err != nil {
		logMQTT("Ignoring message on %s: %v", msg.Topic(), err)
		return
	}

	p.mu.RLock()
	inbound := p.inbound
	p.mu.RUnlock()
	select {
	case inbound <- d:
	default:
		logMQTT("Inbound queue full, dropping update on %s", msg.Topic())
	}
}

// decodeSelfMessage maps a topic back to its path and decodes the JSON
// value.
func (p *Publisher) decodeSelfMessage(topic string, payload []byte) (telemetry.Delta, error) {
	var path string
	for _, candidate := range SelfPaths {
		if topic == p.ns.MQTTSelfTopic(candidate) {
			path = candidate
			break
		}
	}
	if path == "" {
		return telemetry.Delta{}, fmt.Errorf("unexpected topic")
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		// Plain text navigation state is accepted as is.
		if path != telemetry.PathNavState {
			return telemetry.Delta{}, fmt.Errorf("invalid JSON: %w", err)
		}
		value = strings.TrimSpace(string(payload))
	}
	if path == telemetry.PathPosition {
		pos, ok := telemetry.PositionFrom(value)
		if !ok {
			return telemetry.Delta{}, fmt.Errorf("position needs latitude and longitude")
		}
		value = pos
	}
	return telemetry.NewDelta(telemetry.SelfContext, p.now().UTC(), telemetry.PathValue{Path: path, Value: value}), nil
}

// PublishDelta sends the full delta to the deltas topic and retains each
// value at its own topic when it changed.
func (p *Publisher) PublishDelta(d telemetry.Delta) error {
	p.mu.RLock()
	running := p.running
	client := p.client
	p.mu.RUnlock()
	if !running || client == nil {
		return nil
	}

	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("mqtt %s: marshal delta: %w", p.config.Name, err)
	}
	if err := p.publish(client, p.ns.MQTTDeltaTopic(d.Context), false, payload); err != nil {
		return err
	}

	for _, u := range d.Updates {
		for _, pv := range u.Values {
			v, err := json.Marshal(pv.Value)
			if err != nil {
				logMQTT("Skipping %s: %v", pv.Path, err)
				continue
			}
			topic := p.ns.MQTTValueTopic(d.Context, pv.Path)
			if !p.shouldPublish(topic, string(v), false) {
				continue
			}
			if err := p.publish(client, topic, true, v); err != nil {
				return err
			}
			p.updateLastValue(topic, string(v))
		}
	}
	return nil
}

// PublishHealth retains the health of one TNC.
func (p *Publisher) PublishHealth(h HealthMessage) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return p.publish(client, p.ns.MQTTHealthTopic(h.Name), true, payload)
}

// PublishStatus retains the gateway status line.
func (p *Publisher) PublishStatus(status string) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(StatusMessage{
		Status:    status,
		Timestamp: p.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return p.publish(client, p.ns.MQTTStatusTopic(), true, payload)
}

func (p *Publisher) publish(client pahomqtt.Client, topic string, retained bool, payload []byte) error {
	token := client.Publish(topic, 1, retained, payload)
	// Use timeout to prevent blocking
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("mqtt %s: publish %s: timeout", p.config.Name, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt %s: publish %s: %w", p.config.Name, topic, err)
	}
	return nil
}

func (p *Publisher) shouldPublish(topic, value string, force bool) bool {
	p.lastMu.RLock()
	last, exists := p.lastValues[topic]
	p.lastMu.RUnlock()
	return !exists || force || last != value
}

func (p *Publisher) updateLastValue(topic, value string) {
	p.lastMu.Lock()
	p.lastValues[topic] = value
	p.lastMu.Unlock()
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.config.Port)
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port)
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}
