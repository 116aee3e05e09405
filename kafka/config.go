// Package kafka produces telemetry deltas and TNC health to Kafka topics.
package kafka

import (
	"crypto/tls"
	"time"

	"aprsgate/config"
)

// SASLMechanism represents the SASL authentication mechanism.
type SASLMechanism string

const (
	SASLNone        SASLMechanism = ""
	SASLPlain       SASLMechanism = "PLAIN"
	SASLSCRAMSHA256 SASLMechanism = "SCRAM-SHA-256"
	SASLSCRAMSHA512 SASLMechanism = "SCRAM-SHA-512"
)

// Producer defaults applied when the YAML leaves a value unset.
const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 100 * time.Millisecond
)

// withDefaults returns a copy of cfg with unset producer settings filled in.
func withDefaults(cfg config.KafkaConfig) config.KafkaConfig {
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = -1 // all replicas
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return cfg
}

// autoCreateTopics defaults to true.
func autoCreateTopics(cfg *config.KafkaConfig) bool {
	return cfg.AutoCreateTopics == nil || *cfg.AutoCreateTopics
}

func tlsConfig(cfg *config.KafkaConfig) *tls.Config {
	if !cfg.UseTLS {
		return nil
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}
