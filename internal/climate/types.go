package climate

import (
	"context"
	"maps"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
)

// Domain is the platform domain climate services are called on.
const Domain = "climate"

// Service names understood by climate entities.
const (
	ServiceTurnOn         = "turn_on"
	ServiceTurnOff        = "turn_off"
	ServiceSetTemperature = "set_temperature"
	ServiceSetSwingMode   = "set_swing_mode"
	ServiceSetPresetMode  = "set_preset_mode"
	ServiceSetHVACMode    = "set_hvac_mode"
	ServiceSetHumidity    = "set_humidity"
	ServiceSetFanMode     = "set_fan_mode"
	ServiceSetAuxHeat     = "set_aux_heat"
)

// HVAC modes reported in State.State and accepted by SetHVACMode.
const (
	HVACModeOff      = "off"
	HVACModeHeat     = "heat"
	HVACModeCool     = "cool"
	HVACModeHeatCool = "heat_cool"
	HVACModeAuto     = "auto"
	HVACModeDry      = "dry"
	HVACModeFanOnly  = "fan_only"
)

// Well-known state attribute keys.
const (
	AttrFriendlyName       = "friendly_name"
	AttrCurrentTemperature = "current_temperature"
	AttrTemperature        = "temperature"
	AttrTargetTempHigh     = "target_temp_high"
	AttrTargetTempLow      = "target_temp_low"
	AttrCurrentHumidity    = "current_humidity"
	AttrHumidity           = "humidity"
	AttrFanMode            = "fan_mode"
	AttrSwingMode          = "swing_mode"
	AttrPresetMode         = "preset_mode"
	AttrHVACAction         = "hvac_action"
	AttrAuxHeat            = "aux_heat"
	AttrHVACMode           = "hvac_mode"
)

// Context is the causal context attached to service calls and state changes.
//
// ParentID carries the causal token of the entity that triggered the change.
// External event sources must copy the ParentID of a service call into the
// state change it produces; that echo is what makes loop attribution work.
type Context struct {
	ID       string       `json:"id"`
	ParentID causal.Token `json:"parent_id,omitempty"`
	UserID   string       `json:"user_id,omitempty"`
}

// State is an entity state as observed on the platform.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
	Context     Context        `json:"context"`
}

// Clone returns a copy of s with its own attribute map.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.Attributes = maps.Clone(s.Attributes)
	return &c
}

// FriendlyName returns the friendly_name attribute, falling back to the entity id.
func (s *State) FriendlyName() string {
	if s == nil {
		return ""
	}
	if name, ok := s.Attributes[AttrFriendlyName].(string); ok && name != "" {
		return name
	}
	return s.EntityID
}

// Float returns a numeric attribute.
func (s *State) Float(key string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch v := s.Attributes[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String returns a string attribute.
func (s *State) String(key string) (string, bool) {
	if s == nil {
		return "", false
	}
	v, ok := s.Attributes[key].(string)
	return v, ok
}

// StateChangedEvent is a state-change notification for one entity.
type StateChangedEvent struct {
	EntityID string  `json:"entity_id"`
	OldState *State  `json:"old_state,omitempty"`
	NewState *State  `json:"new_state,omitempty"`
	Context  Context `json:"context"`
}

// ServiceCall is a request to run a service against a target entity.
type ServiceCall struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id"`
	Data     map[string]any `json:"data,omitempty"`
	Context  Context        `json:"context"`
}

// StateChangeHandler receives state-change notifications.
type StateChangeHandler func(StateChangedEvent)

// Platform is the home-automation platform the bridge talks to: its state
// store, its state-change stream and its service dispatcher.
type Platform interface {
	// GetState returns the current state of an entity.
	GetState(entityID string) (*State, bool)

	// SubscribeStateChanges registers handler for changes of entityID. The
	// returned function removes the subscription and is safe to call twice.
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (unsubscribe func(), err error)

	// CallService dispatches a service call.
	CallService(ctx context.Context, call ServiceCall) error
}
