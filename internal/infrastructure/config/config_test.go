package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: "bridge-test"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
discovery:
  prefix: "hidtest"
controller:
  throttle_ms: 100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "bridge-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "bridge-test")
	}
	if cfg.Discovery.Prefix != "hidtest" {
		t.Errorf("Discovery.Prefix = %q, want %q", cfg.Discovery.Prefix, "hidtest")
	}
	// Unset keys keep their defaults.
	if cfg.Discovery.ConfigSuffix != "config" {
		t.Errorf("Discovery.ConfigSuffix = %q, want %q", cfg.Discovery.ConfigSuffix, "config")
	}
	if !cfg.Controller.SuppressEcho {
		t.Error("Controller.SuppressEcho should default to true")
	}
	if got := cfg.ThrottleCooldown(); got != 100*time.Millisecond {
		t.Errorf("ThrottleCooldown() = %v, want 100ms", got)
	}
}

func TestLoad_SuppressEchoDisabled(t *testing.T) {
	path := writeConfig(t, `
controller:
  suppress_echo: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Controller.SuppressEcho {
		t.Error("Controller.SuppressEcho = true, want false")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: ""
`)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for empty bridge.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{name: "missing bridge ID", modify: func(c *Config) { c.Bridge.ID = "" }, wantErr: "bridge.id"},
		{name: "missing database path", modify: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "invalid QoS", modify: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "invalid broker port", modify: func(c *Config) { c.MQTT.Broker.Port = 0 }, wantErr: "mqtt.broker.port"},
		{name: "wildcard prefix", modify: func(c *Config) { c.Discovery.Prefix = "hid/#" }, wantErr: "discovery.prefix"},
		{name: "empty platform prefix", modify: func(c *Config) { c.Platform.Prefix = "" }, wantErr: "platform.prefix"},
		{name: "negative throttle", modify: func(c *Config) { c.Controller.ThrottleMS = -1 }, wantErr: "throttle_ms"},
		{name: "invalid API port", modify: func(c *Config) { c.API.Port = 70000 }, wantErr: "api.port"},
		{name: "API port ignored when disabled", modify: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "influx without url", modify: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.Org = "o"
			c.InfluxDB.Bucket = "b"
		}, wantErr: "influxdb.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Bridge.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "bridge.id") || !strings.Contains(err.Error(), "database.path") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		API:       APIConfig{Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60}},
		Bridge:    BridgeConfig{HealthInterval: 15},
		Discovery: DiscoveryConfig{CacheTTL: 120},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.HealthInterval(); got != 15*time.Second {
		t.Errorf("HealthInterval() = %v, want 15s", got)
	}
	if got := cfg.DiscoveryCacheTTL(); got != 2*time.Minute {
		t.Errorf("DiscoveryCacheTTL() = %v, want 2m", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HIDBRIDGE_BRIDGE_ID", "bridge-env")
	t.Setenv("HIDBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HIDBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HIDBRIDGE_MQTT_PORT", "8883")
	t.Setenv("HIDBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("HIDBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("HIDBRIDGE_DISCOVERY_PREFIX", "hid2")
	t.Setenv("HIDBRIDGE_PLATFORM_PREFIX", "ha")
	t.Setenv("HIDBRIDGE_API_HOST", "192.168.1.1")
	t.Setenv("HIDBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HIDBRIDGE_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Bridge.ID", cfg.Bridge.ID, "bridge-env"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Discovery.Prefix", cfg.Discovery.Prefix, "hid2"},
		{"Platform.Prefix", cfg.Platform.Prefix, "ha"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("HIDBRIDGE_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Bridge.ID == "" {
		t.Error("defaultConfig should have non-empty Bridge.ID")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Controller.ThrottleMS != 250 {
		t.Errorf("defaultConfig Controller.ThrottleMS = %d, want 250", cfg.Controller.ThrottleMS)
	}
	if cfg.Discovery.Prefix != "hid" || cfg.Platform.Prefix != "homeassistant" {
		t.Errorf("defaultConfig prefixes = %q, %q", cfg.Discovery.Prefix, cfg.Platform.Prefix)
	}
}
