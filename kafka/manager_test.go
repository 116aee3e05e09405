package kafka

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprsgate/config"
	"aprsgate/telemetry"
)

type sentLog struct {
	mu   sync.Mutex
	jobs []publishJob
}

func (s *sentLog) send(job publishJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *sentLog) snapshot() []publishJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]publishJob(nil), s.jobs...)
}

// newTestManager returns a manager whose workers record jobs instead of
// producing them. Clusters are marked connected without dialing.
func newTestManager(t *testing.T, clusters ...config.KafkaConfig) (*Manager, *sentLog) {
	t.Helper()
	log := &sentLog{}
	m := newManager("aprsgate")
	m.send = log.send
	for _, c := range clusters {
		m.AddCluster(c)
		m.GetProducer(c.Name).status = StatusConnected
	}
	t.Cleanup(m.StopAll)
	return m, log
}

func TestPublishDeltaKeyedByContext(t *testing.T) {
	m, log := newTestManager(t,
		config.KafkaConfig{Name: "main", Enabled: true, PublishChanges: true},
		config.KafkaConfig{Name: "ship", Enabled: true, PublishChanges: true, Selector: "shore"},
		config.KafkaConfig{Name: "quiet", Enabled: true},
	)
	d := telemetry.NewDelta(telemetry.StationContext("N0CALL"), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		telemetry.PathValue{Path: telemetry.PathTemperature, Value: 298.15})

	require.NoError(t, m.PublishDelta(d))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 2 }, time.Second, 5*time.Millisecond)

	topics := map[string]string{}
	for _, job := range log.snapshot() {
		topics[job.producer.Name()] = job.topic
		assert.Equal(t, d.Context, string(job.key))
		var got telemetry.Delta
		require.NoError(t, json.Unmarshal(job.payload, &got))
		assert.Equal(t, d.Context, got.Context)
	}
	assert.Equal(t, map[string]string{"main": "aprsgate", "ship": "aprsgate-shore"}, topics)
}

func TestPublishSkipsDisconnected(t *testing.T) {
	m, log := newTestManager(t, config.KafkaConfig{Name: "main", PublishChanges: true})
	m.GetProducer("main").status = StatusError

	assert.False(t, m.AnyPublishing())
	require.NoError(t, m.PublishDelta(telemetry.Delta{Context: telemetry.SelfContext}))
	m.PublishHealth(HealthMessage{TNC: "direwolf"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.snapshot())
}

func TestPublishHealthTopic(t *testing.T) {
	m, log := newTestManager(t, config.KafkaConfig{Name: "main", PublishChanges: true})
	m.PublishHealth(HealthMessage{TNC: "direwolf", Address: "127.0.0.1:8001", Online: true, Status: "Online"})

	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	job := log.snapshot()[0]
	assert.Equal(t, "aprsgate.health", job.topic)
	assert.Equal(t, "direwolf", string(job.key))

	var msg HealthMessage
	require.NoError(t, json.Unmarshal(job.payload, &msg))
	assert.True(t, msg.Online)
	assert.NotEmpty(t, msg.Timestamp)
}

func TestStopAllIsRestartable(t *testing.T) {
	m, log := newTestManager(t, config.KafkaConfig{Name: "main", PublishChanges: true})
	m.StopAll()
	assert.Equal(t, StatusDisconnected, m.GetProducer("main").GetStatus())

	m.GetProducer("main").status = StatusConnected
	require.NoError(t, m.PublishDelta(telemetry.Delta{Context: telemetry.SelfContext}))
	require.Eventually(t, func() bool { return len(log.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestClusterRegistry(t *testing.T) {
	m, _ := newTestManager(t)
	m.LoadFromConfig([]config.KafkaConfig{{Name: "b"}, {Name: "a"}, {Name: "a", Brokers: []string{"x:1"}}})
	assert.Equal(t, []string{"a", "b"}, m.ListClusters())
	assert.Equal(t, []string{"localhost:9092"}, m.GetProducer("a").config.Brokers)

	m.RemoveCluster("a")
	assert.Nil(t, m.GetProducer("a"))
}

func TestProducerDefaults(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Name: "main"})
	assert.Equal(t, -1, p.config.RequiredAcks)
	assert.Equal(t, DefaultMaxRetries, p.config.MaxRetries)
	assert.Equal(t, DefaultRetryBackoff, p.config.RetryBackoff)
	assert.True(t, autoCreateTopics(&p.config))
	assert.Nil(t, tlsConfig(&p.config))

	_, err := p.getWriter("aprsgate")
	assert.Error(t, err, "writers need a connected cluster")
}

func TestSASLMechanism(t *testing.T) {
	tests := []struct {
		mech string
		want string
	}{
		{"PLAIN", "PLAIN"},
		{"scram-sha-256", "SCRAM-SHA-256"},
		{"SCRAM-SHA-512", "SCRAM-SHA-512"},
		{"", ""},
	}
	for _, tc := range tests {
		t.Run(tc.mech, func(t *testing.T) {
			p := NewProducer(config.KafkaConfig{SASLMechanism: tc.mech, Username: "u", Password: "p"})
			m := p.saslMechanism()
			if tc.want == "" {
				assert.Nil(t, m)
				return
			}
			require.NotNil(t, m)
			assert.Equal(t, tc.want, m.Name())
		})
	}

	p := NewProducer(config.KafkaConfig{SASLMechanism: "PLAIN"})
	assert.Nil(t, p.saslMechanism(), "no username means no SASL")
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "Connected", StatusConnected.String())
	assert.Equal(t, "Unknown", ConnectionStatus(99).String())
}
