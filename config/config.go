// Package config handles configuration persistence for aprsgate.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"aprsgate/ax25"
)

const (
	DefaultTNCPort  = 8001
	DefaultBaud     = 9600
	DefaultCallsign = "NOCALL"
	DefaultSymbol   = "/Y"
	DefaultNote     = "https://signalk.org"
	DefaultInterval = 15 // minutes
)

// ErrNoTNCs is returned by ValidateTNCs when nothing is configured.
var ErrNoTNCs = errors.New("no TNC connections configured")

// Config holds the complete application configuration.
type Config struct {
	Namespace string         `yaml:"namespace"`
	TNCs      []TNCConfig    `yaml:"tncs"`
	Beacon    BeaconConfig   `yaml:"beacon"`
	Presence  PresenceConfig `yaml:"presence"`
	MQTT      []MQTTConfig   `yaml:"mqtt"`
	Valkey    []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig  `yaml:"kafka,omitempty"`
	Web       WebConfig      `yaml:"web"`
	Log       LogConfig      `yaml:"log"`

	// Callers that modify config should Lock(), modify, then UnlockAndSave().
	dataMu sync.Mutex `yaml:"-"`
}

// TNCConfig is one KISS TNC endpoint, reached over TCP (host/port) or a
// serial device.
type TNCConfig struct {
	Name        string         `yaml:"name"`
	Host        string         `yaml:"host,omitempty"`
	Port        int            `yaml:"port,omitempty"`
	Device      string         `yaml:"device,omitempty"`
	Baud        int            `yaml:"baud,omitempty"`
	Enabled     *bool          `yaml:"enabled,omitempty"` // nil = enabled
	Transmit    bool           `yaml:"transmit"`
	Description string         `yaml:"description,omitempty"`
	IdleTimeout *time.Duration `yaml:"idle_timeout,omitempty"` // nil = manager default, 0 = off
}

// IsEnabled reports whether the endpoint should be connected.
func (t TNCConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// IsSerial reports whether the endpoint is a serial device.
func (t TNCConfig) IsSerial() bool {
	return t.Device != ""
}

// Address is host:port for TCP endpoints and the device path for serial.
func (t TNCConfig) Address() string {
	if t.IsSerial() {
		return t.Device
	}
	port := t.Port
	if port == 0 {
		port = DefaultTNCPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

// Validate checks that the endpoint can be reached.
func (t TNCConfig) Validate() error {
	if t.IsSerial() {
		if t.Baud < 0 {
			return fmt.Errorf("tnc %q: invalid baud %d", t.Name, t.Baud)
		}
		return nil
	}
	if t.Host == "" {
		return fmt.Errorf("tnc %q: host or device is required", t.Name)
	}
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("tnc %q: invalid port %d", t.Name, t.Port)
	}
	return nil
}

// BeaconConfig controls outbound position beacons.
type BeaconConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Callsign   string `yaml:"callsign"`
	SSID       int    `yaml:"ssid"`
	Symbol     string `yaml:"symbol"`
	Note       string `yaml:"note"`
	Interval   int    `yaml:"interval"` // minutes
	VesselName string `yaml:"vessel_name,omitempty"`
}

// IntervalDuration returns the beacon period, defaulting to 15 minutes.
func (b BeaconConfig) IntervalDuration() time.Duration {
	if b.Interval <= 0 {
		return DefaultInterval * time.Minute
	}
	return time.Duration(b.Interval) * time.Minute
}

// Source returns the beacon source address. A callsign written with its
// SSID ("N0CALL-9") overrides the ssid field.
func (b BeaconConfig) Source() (ax25.Address, error) {
	call := strings.ToUpper(strings.TrimSpace(b.Callsign))
	if strings.Contains(call, "-") {
		return ax25.ParseAddress(call)
	}
	src := ax25.Address{Callsign: call, SSID: b.SSID}
	if err := src.Validate(); err != nil {
		return ax25.Address{}, err
	}
	return src, nil
}

// PresenceConfig controls the station online window.
type PresenceConfig struct {
	Window time.Duration `yaml:"window"`
}

// MQTTConfig holds MQTT broker configuration. Every enabled broker carries
// the telemetry bus: it receives own-vessel updates and publishes deltas.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id"`
	Selector string `yaml:"selector,omitempty"` // Optional sub-namespace
	UseTLS   bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis station store configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`
	Selector       string        `yaml:"selector,omitempty"`
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // 0 = no expiry
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // Pub/Sub on every delta
}

// KafkaConfig holds Kafka cluster configuration.
type KafkaConfig struct {
	Name             string        `yaml:"name"`
	Enabled          bool          `yaml:"enabled"`
	Brokers          []string      `yaml:"brokers"`
	UseTLS           bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify    bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism    string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username         string        `yaml:"username,omitempty"`
	Password         string        `yaml:"password,omitempty"`
	RequiredAcks     int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries       int           `yaml:"max_retries,omitempty"`
	RetryBackoff     time.Duration `yaml:"retry_backoff,omitempty"`
	PublishChanges   bool          `yaml:"publish_changes,omitempty"`
	Selector         string        `yaml:"selector,omitempty"`
	AutoCreateTopics *bool         `yaml:"auto_create_topics,omitempty"` // default true
}

// WebConfig holds the REST API server configuration.
type WebConfig struct {
	Enabled bool      `yaml:"enabled"`
	Host    string    `yaml:"host"`
	Port    int       `yaml:"port"`
	Users   []WebUser `yaml:"users,omitempty"`
}

// WebUser is an API user checked with HTTP basic auth.
type WebUser struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt
}

// LogConfig controls the console, debug and monitor logs.
type LogConfig struct {
	Level       string `yaml:"level"`
	DebugPath   string `yaml:"debug_path,omitempty"`
	DebugFilter string `yaml:"debug_filter,omitempty"`
	MonitorPath string `yaml:"monitor_path,omitempty"` // strftime pattern, empty = off
	TimeFormat  string `yaml:"time_format,omitempty"`  // strftime
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "aprsgate",
		TNCs:      []TNCConfig{},
		Beacon: BeaconConfig{
			Callsign: DefaultCallsign,
			Symbol:   DefaultSymbol,
			Note:     DefaultNote,
			Interval: DefaultInterval,
		},
		Presence: PresenceConfig{Window: 30 * time.Minute},
		Web: WebConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		MQTT:   []MQTTConfig{},
		Valkey: []ValkeyConfig{},
		Kafka:  []KafkaConfig{},
		Log:    LogConfig{Level: "info"},
	}
}

// DefaultPath returns the default configuration file path (~/.aprsgate/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".aprsgate", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults, which are written back on a best-effort basis.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.Save(path)
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills values the YAML left at their zero value.
func (c *Config) applyDefaults() {
	for i := range c.TNCs {
		t := &c.TNCs[i]
		if !t.IsSerial() && t.Port == 0 {
			t.Port = DefaultTNCPort
		}
		if t.IsSerial() && t.Baud == 0 {
			t.Baud = DefaultBaud
		}
		if t.Name == "" {
			t.Name = t.Address()
		}
	}
	if c.Beacon.Callsign == "" {
		c.Beacon.Callsign = DefaultCallsign
	}
	if len(c.Beacon.Symbol) != 2 {
		c.Beacon.Symbol = DefaultSymbol
	}
	if c.Beacon.Interval <= 0 {
		c.Beacon.Interval = DefaultInterval
	}
	if c.Presence.Window <= 0 {
		c.Presence.Window = 30 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Lock acquires the config data mutex for exclusive access.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals and writes.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock held by the caller, and writes.
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindTNC returns the TNC with the given name, or nil.
func (c *Config) FindTNC(name string) *TNCConfig {
	for i := range c.TNCs {
		if c.TNCs[i].Name == name {
			return &c.TNCs[i]
		}
	}
	return nil
}

// AddTNC appends an endpoint.
func (c *Config) AddTNC(t TNCConfig) {
	c.TNCs = append(c.TNCs, t)
}

// RemoveTNC removes an endpoint by name.
func (c *Config) RemoveTNC(name string) bool {
	for i, t := range c.TNCs {
		if t.Name == name {
			c.TNCs = append(c.TNCs[:i], c.TNCs[i+1:]...)
			return true
		}
	}
	return false
}

// EnabledTNCs returns the endpoints that should be connected.
func (c *Config) EnabledTNCs() []TNCConfig {
	var out []TNCConfig
	for _, t := range c.TNCs {
		if t.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}

// ValidateTNCs reports the TNC configuration error, if any: no endpoints
// at all, or an enabled endpoint that cannot be reached.
func (c *Config) ValidateTNCs() error {
	if len(c.TNCs) == 0 {
		return ErrNoTNCs
	}
	for _, t := range c.EnabledTNCs() {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FindMQTT returns the MQTT config with the given name, or nil.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// FindValkey returns the Valkey config with the given name, or nil.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindKafka returns the Kafka config with the given name, or nil.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// FindWebUser returns the API user with the given username, or nil.
func (c *Config) FindWebUser(username string) *WebUser {
	for i := range c.Web.Users {
		if c.Web.Users[i].Username == username {
			return &c.Web.Users[i]
		}
	}
	return nil
}

// SetWebUser adds the user or replaces its password hash.
func (c *Config) SetWebUser(user WebUser) {
	if u := c.FindWebUser(user.Username); u != nil {
		*u = user
		return
	}
	c.Web.Users = append(c.Web.Users, user)
}

// Validate checks the parts of the configuration that make it unusable.
// TNC problems are reported separately by ValidateTNCs since they do not
// stop the rest of the gateway.
func (c *Config) Validate() error {
	if !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace %q: must contain only alphanumeric characters, hyphens, underscores and dots", c.Namespace)
	}
	if len(c.Beacon.Symbol) != 2 {
		return fmt.Errorf("beacon symbol %q must be 2 characters", c.Beacon.Symbol)
	}
	if c.Beacon.SSID < 0 || c.Beacon.SSID > 15 {
		return fmt.Errorf("beacon ssid %d out of range 0-15", c.Beacon.SSID)
	}
	if c.Beacon.Enabled {
		if strings.TrimSpace(c.Beacon.Callsign) == "" {
			return errors.New("beacon callsign is required when beaconing is enabled")
		}
		if _, err := c.Beacon.Source(); err != nil {
			return fmt.Errorf("beacon callsign: %w", err)
		}
	}
	return nil
}

// IsValidNamespace returns true if the namespace is non-empty and holds only
// alphanumerics, hyphens, underscores and dots.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
