package mqtt

import (
	"strings"

	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/config"
)

// Topics builds the bridge's MQTT topic names.
//
// Device topics live under the discovery prefix:
//
//	hid/<unique_id>/config    retained discovery announcement (device -> bridge)
//	hid/<unique_id>/state     climate snapshot (bridge -> device)
//	hid/<unique_id>/command   climate command (device -> bridge)
//
// Platform topics live under the platform prefix:
//
//	homeassistant/entity/<entity_id>/state    retained entity state
//	homeassistant/entity/<entity_id>/service  service call request
type Topics struct {
	DiscoveryPrefix string
	ConfigSuffix    string
	StateSuffix     string
	CommandSuffix   string
	PlatformPrefix  string
	Status          string
	BridgeID        string
}

// NewTopics builds Topics from the loaded configuration.
func NewTopics(cfg *config.Config) Topics {
	return Topics{
		DiscoveryPrefix: cfg.Discovery.Prefix,
		ConfigSuffix:    cfg.Discovery.ConfigSuffix,
		StateSuffix:     cfg.Discovery.StateSuffix,
		CommandSuffix:   cfg.Discovery.CommandSuffix,
		PlatformPrefix:  cfg.Platform.Prefix,
		Status:          cfg.MQTT.StatusTopic,
		BridgeID:        cfg.Bridge.ID,
	}
}

// DefaultTopics returns the topic tree for the default configuration.
func DefaultTopics() Topics {
	return Topics{
		DiscoveryPrefix: "hid",
		ConfigSuffix:    "config",
		StateSuffix:     "state",
		CommandSuffix:   "command",
		PlatformPrefix:  "homeassistant",
		Status:          DefaultStatusTopic,
		BridgeID:        "hidbridge-01",
	}
}

func join(parts ...string) string {
	return strings.Join(parts, "/")
}

// DeviceConfig returns the discovery topic of one device.
func (t Topics) DeviceConfig(uniqueID string) string {
	return join(t.DiscoveryPrefix, uniqueID, t.ConfigSuffix)
}

// DeviceState returns the topic snapshots are published to for one device.
func (t Topics) DeviceState(uniqueID string) string {
	return join(t.DiscoveryPrefix, uniqueID, t.StateSuffix)
}

// DeviceCommand returns the topic a device sends commands on.
func (t Topics) DeviceCommand(uniqueID string) string {
	return join(t.DiscoveryPrefix, uniqueID, t.CommandSuffix)
}

// AllDeviceConfigs matches every discovery announcement.
//
// Pattern: hid/+/config
func (t Topics) AllDeviceConfigs() string {
	return join(t.DiscoveryPrefix, "+", t.ConfigSuffix)
}

// ParseDeviceTopic extracts the unique id and suffix from a device topic.
func (t Topics) ParseDeviceTopic(topic string) (uniqueID, suffix string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.DiscoveryPrefix+"/")
	if !found {
		return "", "", false
	}
	uniqueID, suffix, found = strings.Cut(rest, "/")
	if !found || uniqueID == "" || suffix == "" || strings.Contains(suffix, "/") {
		return "", "", false
	}
	return uniqueID, suffix, true
}

// EntityState returns the retained state topic of a platform entity.
func (t Topics) EntityState(entityID string) string {
	return join(t.PlatformPrefix, "entity", entityID, "state")
}

// EntityService returns the service call topic of a platform entity.
func (t Topics) EntityService(entityID string) string {
	return join(t.PlatformPrefix, "entity", entityID, "service")
}

// AllEntityStates matches every platform entity state.
//
// Pattern: homeassistant/entity/+/state
func (t Topics) AllEntityStates() string {
	return join(t.PlatformPrefix, "entity", "+", "state")
}

// ParseEntityStateTopic extracts the entity id from an entity state topic.
func (t Topics) ParseEntityStateTopic(topic string) (string, bool) {
	rest, found := strings.CutPrefix(topic, t.PlatformPrefix+"/entity/")
	if !found {
		return "", false
	}
	entityID, found := strings.CutSuffix(rest, "/state")
	if !found || entityID == "" || strings.Contains(entityID, "/") {
		return "", false
	}
	return entityID, true
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	if t.Status == "" {
		return DefaultStatusTopic
	}
	return t.Status
}

// BridgeHealth returns the periodic health topic of this bridge instance.
//
// Example: hidbridge/health/hidbridge-01
func (t Topics) BridgeHealth() string {
	return join("hidbridge", "health", t.BridgeID)
}
