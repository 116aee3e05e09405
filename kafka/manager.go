package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"aprsgate/config"
	"aprsgate/logging"
	"aprsgate/namespace"
	"aprsgate/telemetry"
)

// HealthMessage is the JSON structure published to the health topic.
type HealthMessage struct {
	TNC       string `json:"tnc"`
	Address   string `json:"address"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// publishJob represents a pending Kafka publish operation.
type publishJob struct {
	producer *Producer
	topic    string
	key      []byte
	payload  []byte
}

// MaxPublishWorkers is the maximum number of concurrent publish goroutines.
const MaxPublishWorkers = 10

// MaxPublishQueueSize is the maximum number of pending publish jobs.
const MaxPublishQueueSize = 1000

// Manager manages multiple Kafka producer connections.
type Manager struct {
	producers map[string]*Producer
	ns        string
	mu        sync.RWMutex

	// send delivers one job; replaced in tests.
	send func(job publishJob) error

	publishQueue chan publishJob
	wg           sync.WaitGroup
	stopChan     chan struct{}
	started      bool
}

// NewManager creates a new Kafka manager for the namespace.
func NewManager(ns string) *Manager {
	m := newManager(ns)
	m.startWorkers()
	return m
}

func newManager(ns string) *Manager {
	return &Manager{
		producers:    make(map[string]*Producer),
		ns:           ns,
		send:         produceJob,
		publishQueue: make(chan publishJob, MaxPublishQueueSize),
		stopChan:     make(chan struct{}),
	}
}

func produceJob(job publishJob) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return job.producer.ProduceWithRetry(ctx, job.topic, job.key, job.payload)
}

func (m *Manager) startWorkers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	for i := 0; i < MaxPublishWorkers; i++ {
		m.wg.Add(1)
		go m.publishWorker(m.stopChan, m.publishQueue)
	}
}

func (m *Manager) publishWorker(stop <-chan struct{}, queue <-chan publishJob) {
	defer m.wg.Done()
	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			if err := m.send(job); err != nil {
				logKafka("Failed to publish to %s/%s: %v", job.producer.Name(), job.topic, err)
			}
		}
	}
}

// AddCluster adds a cluster. Existing names are left alone.
func (m *Manager) AddCluster(cfg config.KafkaConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.producers[cfg.Name]; exists {
		return
	}
	m.producers[cfg.Name] = NewProducer(cfg)
}

// RemoveCluster removes a Kafka cluster and disconnects.
func (m *Manager) RemoveCluster(name string) {
	m.mu.Lock()
	producer, exists := m.producers[name]
	delete(m.producers, name)
	m.mu.Unlock()

	if exists {
		producer.Disconnect()
	}
}

// GetProducer returns the producer for the named cluster.
func (m *Manager) GetProducer(name string) *Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.producers[name]
}

// ListClusters returns all cluster names, sorted.
func (m *Manager) ListClusters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.producers))
	for name := range m.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFromConfig adds every configured cluster.
func (m *Manager) LoadFromConfig(configs []config.KafkaConfig) {
	for _, cfg := range configs {
		m.AddCluster(cfg)
	}
}

// ConnectEnabled connects to all enabled clusters in the background.
func (m *Manager) ConnectEnabled() {
	for _, p := range m.snapshot() {
		if p.config.Enabled {
			go p.Connect()
		}
	}
}

// StopAll stops the workers and disconnects every cluster. The manager
// can be reused afterwards.
func (m *Manager) StopAll() {
	m.mu.Lock()
	if m.started {
		close(m.stopChan)
		m.stopChan = make(chan struct{})
		m.publishQueue = make(chan publishJob, MaxPublishQueueSize)
		m.started = false
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		logKafka("Timeout waiting for publish workers to stop")
	}

	for _, p := range m.snapshot() {
		p.Disconnect()
	}
}

func (m *Manager) snapshot() []*Producer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		out = append(out, p)
	}
	return out
}

// publishing returns the producers that should receive messages.
func (m *Manager) publishing() []*Producer {
	var out []*Producer
	for _, p := range m.snapshot() {
		if p.GetStatus() == StatusConnected && p.config.PublishChanges {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) enqueue(job publishJob) {
	m.startWorkers()
	m.mu.RLock()
	queue := m.publishQueue
	m.mu.RUnlock()
	select {
	case queue <- job:
	default:
		logKafka("Publish queue full, dropping message for %s/%s", job.producer.Name(), job.topic)
	}
}

// PublishDelta implements telemetry.Sink. Deltas are keyed by context so
// all updates for one station land on the same partition. Delivery is
// asynchronous; failures are logged by the workers.
func (m *Manager) PublishDelta(d telemetry.Delta) error {
	producers := m.publishing()
	if len(producers) == 0 {
		return nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	for _, p := range producers {
		m.enqueue(publishJob{
			producer: p,
			topic:    namespace.New(m.ns, p.config.Selector).KafkaDeltaTopic(),
			key:      []byte(d.Context),
			payload:  payload,
		})
	}
	return nil
}

// PublishHealth publishes TNC health to every publishing cluster.
func (m *Manager) PublishHealth(msg HealthMessage) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	for _, p := range m.publishing() {
		m.enqueue(publishJob{
			producer: p,
			topic:    namespace.New(m.ns, p.config.Selector).KafkaHealthTopic(),
			key:      []byte(msg.TNC),
			payload:  payload,
		})
	}
}

// AnyPublishing returns true if any cluster is connected and publishing.
func (m *Manager) AnyPublishing() bool {
	return len(m.publishing()) > 0
}

func logKafka(format string, args ...interface{}) {
	logging.DebugLog("Kafka", format, args...)
}

var _ telemetry.Sink = (*Manager)(nil)
