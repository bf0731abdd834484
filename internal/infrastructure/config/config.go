package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the HID climate bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge     BridgeConfig     `yaml:"bridge"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Platform   PlatformConfig   `yaml:"platform"`
	Controller ControllerConfig `yaml:"controller"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	// HealthInterval is how often bridge health is published (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StatusTopic receives the retained online/offline status and the LWT.
	StatusTopic string `yaml:"status_topic"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DiscoveryConfig controls the device-side topic tree.
//
// Devices announce on <prefix>/<unique_id>/<config_suffix>, receive
// snapshots on <prefix>/<unique_id>/<state_suffix> and send commands on
// <prefix>/<unique_id>/<command_suffix>.
type DiscoveryConfig struct {
	Prefix        string `yaml:"prefix"`
	ConfigSuffix  string `yaml:"config_suffix"`
	StateSuffix   string `yaml:"state_suffix"`
	CommandSuffix string `yaml:"command_suffix"`

	// CacheTTL is how long an unlinked discovered device is remembered (seconds).
	CacheTTL int `yaml:"cache_ttl"`
}

// PlatformConfig locates the home-automation platform's MQTT surface.
type PlatformConfig struct {
	// Prefix is the root of the platform topics:
	// <prefix>/entity/<entity_id>/state and <prefix>/entity/<entity_id>/service.
	Prefix string `yaml:"prefix"`
}

// ControllerConfig tunes per-controller behaviour.
type ControllerConfig struct {
	// ThrottleMS is the cooldown between snapshots published to one controller.
	ThrottleMS int `yaml:"throttle_ms"`

	// SuppressEcho skips publishing snapshots caused by the controller itself.
	SuppressEcho bool `yaml:"suppress_echo"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// Loading order: defaults, then the YAML file, then HIDBRIDGE_* environment
// variables. The result is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "hidbridge-01",
			Name:           "HID Climate Bridge",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Path:        "./data/hidbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hidbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			StatusTopic: "hidbridge/system/status",
		},
		Discovery: DiscoveryConfig{
			Prefix:        "hid",
			ConfigSuffix:  "config",
			StateSuffix:   "state",
			CommandSuffix: "command",
			CacheTTL:      3600,
		},
		Platform: PlatformConfig{
			Prefix: "homeassistant",
		},
		Controller: ControllerConfig{
			ThrottleMS:   250,
			SuppressEcho: true,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8099,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HIDBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HIDBRIDGE_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	if v := os.Getenv("HIDBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HIDBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HIDBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HIDBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HIDBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HIDBRIDGE_DISCOVERY_PREFIX"); v != "" {
		cfg.Discovery.Prefix = v
	}
	if v := os.Getenv("HIDBRIDGE_PLATFORM_PREFIX"); v != "" {
		cfg.Platform.Prefix = v
	}

	if v := os.Getenv("HIDBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("HIDBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HIDBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.StatusTopic == "" {
		errs = append(errs, "mqtt.status_topic is required")
	}

	errs = append(errs, validateTopicSegment("discovery.prefix", c.Discovery.Prefix)...)
	errs = append(errs, validateTopicSegment("discovery.config_suffix", c.Discovery.ConfigSuffix)...)
	errs = append(errs, validateTopicSegment("discovery.state_suffix", c.Discovery.StateSuffix)...)
	errs = append(errs, validateTopicSegment("discovery.command_suffix", c.Discovery.CommandSuffix)...)
	errs = append(errs, validateTopicSegment("platform.prefix", c.Platform.Prefix)...)

	if c.Controller.ThrottleMS < 0 {
		errs = append(errs, "controller.throttle_ms must not be negative")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateTopicSegment rejects empty values and MQTT wildcards.
func validateTopicSegment(name, value string) []string {
	switch {
	case value == "":
		return []string{name + " is required"}
	case strings.ContainsAny(value, "+#"):
		return []string{name + " must not contain MQTT wildcards"}
	}
	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// ThrottleCooldown returns the per-controller snapshot cooldown.
func (c *Config) ThrottleCooldown() time.Duration {
	return time.Duration(c.Controller.ThrottleMS) * time.Millisecond
}

// HealthInterval returns the bridge health publish interval.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// DiscoveryCacheTTL returns how long unlinked discovered devices are kept.
func (c *Config) DiscoveryCacheTTL() time.Duration {
	return time.Duration(c.Discovery.CacheTTL) * time.Second
}
