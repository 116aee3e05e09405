// Package namespace provides utilities for constructing topic and key paths
// with consistent namespace prefixing across all services (MQTT, Valkey, Kafka).
package namespace

import "strings"

// Builder constructs namespace-prefixed topics and keys.
type Builder struct {
	namespace string
	selector  string
}

// New creates a new namespace builder.
func New(namespace, selector string) *Builder {
	return &Builder{
		namespace: namespace,
		selector:  selector,
	}
}

// --- MQTT (delimiter: /) ---

// MQTTSelfTopic returns the topic carrying an own-vessel value:
// {ns}[/{sel}]/vessels/self/{path}
func (b *Builder) MQTTSelfTopic(path string) string {
	return b.MQTTValueTopic("vessels.self", path)
}

// MQTTValueTopic returns the retained topic for one value of a context:
// {ns}[/{sel}]/{context}/{path}, with dots in context and path turned
// into topic levels.
func (b *Builder) MQTTValueTopic(context, path string) string {
	return b.mqttBase() + "/" + dotsToLevels(context) + "/" + dotsToLevels(path)
}

// MQTTDeltaTopic returns the topic for full deltas: {ns}[/{sel}]/deltas/{context}
func (b *Builder) MQTTDeltaTopic(context string) string {
	return b.mqttBase() + "/deltas/" + context
}

// MQTTHealthTopic returns the topic for TNC health: {ns}[/{sel}]/tncs/{tnc}/health
func (b *Builder) MQTTHealthTopic(tnc string) string {
	return b.mqttBase() + "/tncs/" + tnc + "/health"
}

// MQTTStatusTopic returns the topic for the gateway status line: {ns}[/{sel}]/status
func (b *Builder) MQTTStatusTopic() string {
	return b.mqttBase() + "/status"
}

// MQTTBase returns the base topic: {ns}[/{sel}]
func (b *Builder) MQTTBase() string {
	return b.mqttBase()
}

func (b *Builder) mqttBase() string {
	if b.selector != "" {
		return b.namespace + "/" + b.selector
	}
	return b.namespace
}

func dotsToLevels(s string) string {
	return strings.ReplaceAll(s, ".", "/")
}

// --- Valkey (delimiter: :) ---

// ValkeyDeltaChannel returns the pub/sub channel for deltas: {ns}[:{sel}]:deltas
func (b *Builder) ValkeyDeltaChannel() string {
	return b.valkeyBase() + ":deltas"
}

// ValkeyStationKey returns the key for a station snapshot: {ns}[:{sel}]:stations:{callsign}
func (b *Builder) ValkeyStationKey(callsign string) string {
	return b.valkeyBase() + ":stations:" + callsign
}

// ValkeyStationPattern matches every station key.
func (b *Builder) ValkeyStationPattern() string {
	return b.valkeyBase() + ":stations:*"
}

// ValkeyHealthKey returns the key for TNC health: {ns}[:{sel}]:tncs:{tnc}:health
func (b *Builder) ValkeyHealthKey(tnc string) string {
	return b.valkeyBase() + ":tncs:" + tnc + ":health"
}

// ValkeyStatusKey returns the key holding the gateway status line: {ns}[:{sel}]:status
func (b *Builder) ValkeyStatusKey() string {
	return b.valkeyBase() + ":status"
}

// ValkeyFactory returns the factory identifier for JSON messages: {ns}[:{sel}]
func (b *Builder) ValkeyFactory() string {
	return b.valkeyBase()
}

func (b *Builder) valkeyBase() string {
	if b.selector != "" {
		return b.namespace + ":" + b.selector
	}
	return b.namespace
}

// --- Kafka (delimiter: - for topics, . for health) ---

// KafkaDeltaTopic returns the topic for deltas: {ns}[-{sel}]
// The delta context is used as the message key for partitioning.
func (b *Builder) KafkaDeltaTopic() string {
	return b.kafkaBase()
}

// KafkaHealthTopic returns the topic for TNC health: {ns}[-{sel}].health
func (b *Builder) KafkaHealthTopic() string {
	return b.kafkaBase() + ".health"
}

func (b *Builder) kafkaBase() string {
	if b.selector != "" {
		return b.namespace + "-" + b.selector
	}
	return b.namespace
}
