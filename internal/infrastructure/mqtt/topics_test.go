package mqtt

import (
	"testing"

	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/config"
)

func TestTopicBuilders(t *testing.T) {
	topics := DefaultTopics()
	uid := "TC-HID-ABCDEF1234567890"

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceConfig", topics.DeviceConfig(uid), "hid/" + uid + "/config"},
		{"DeviceState", topics.DeviceState(uid), "hid/" + uid + "/state"},
		{"DeviceCommand", topics.DeviceCommand(uid), "hid/" + uid + "/command"},
		{"AllDeviceConfigs", topics.AllDeviceConfigs(), "hid/+/config"},
		{"EntityState", topics.EntityState("climate.living_room"), "homeassistant/entity/climate.living_room/state"},
		{"EntityService", topics.EntityService("climate.living_room"), "homeassistant/entity/climate.living_room/service"},
		{"AllEntityStates", topics.AllEntityStates(), "homeassistant/entity/+/state"},
		{"SystemStatus", topics.SystemStatus(), "hidbridge/system/status"},
		{"BridgeHealth", topics.BridgeHealth(), "hidbridge/health/hidbridge-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestNewTopics_FromConfig(t *testing.T) {
	topics := NewTopics(&config.Config{
		Bridge:    config.BridgeConfig{ID: "b2"},
		MQTT:      config.MQTTConfig{StatusTopic: "custom/status"},
		Discovery: config.DiscoveryConfig{Prefix: "tc", ConfigSuffix: "cfg", StateSuffix: "st", CommandSuffix: "cmd"},
		Platform:  config.PlatformConfig{Prefix: "ha"},
	})

	if got := topics.DeviceConfig("X"); got != "tc/X/cfg" {
		t.Errorf("DeviceConfig = %q", got)
	}
	if got := topics.DeviceCommand("X"); got != "tc/X/cmd" {
		t.Errorf("DeviceCommand = %q", got)
	}
	if got := topics.EntityState("climate.a"); got != "ha/entity/climate.a/state" {
		t.Errorf("EntityState = %q", got)
	}
	if got := topics.SystemStatus(); got != "custom/status" {
		t.Errorf("SystemStatus = %q", got)
	}
	if got := topics.BridgeHealth(); got != "hidbridge/health/b2" {
		t.Errorf("BridgeHealth = %q", got)
	}
}

func TestParseDeviceTopic(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		topic      string
		wantID     string
		wantSuffix string
		wantOK     bool
	}{
		{"hid/ABC/config", "ABC", "config", true},
		{"hid/ABC/command", "ABC", "command", true},
		{"hid//config", "", "", false},
		{"hid/ABC", "", "", false},
		{"hid/ABC/config/extra", "", "", false},
		{"other/ABC/config", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			id, suffix, ok := topics.ParseDeviceTopic(tt.topic)
			if id != tt.wantID || suffix != tt.wantSuffix || ok != tt.wantOK {
				t.Errorf("ParseDeviceTopic(%q) = %q, %q, %v", tt.topic, id, suffix, ok)
			}
		})
	}
}

func TestParseEntityStateTopic(t *testing.T) {
	topics := DefaultTopics()

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"homeassistant/entity/climate.x/state", "climate.x", true},
		{"homeassistant/entity/climate.x/service", "", false},
		{"homeassistant/entity//state", "", false},
		{"homeassistant/entity/a/b/state", "", false},
		{"hid/climate.x/state", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.ParseEntityStateTopic(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseEntityStateTopic(%q) = %q, %v", tt.topic, got, ok)
			}
		})
	}
}
