package hid

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
)

// Snapshot is one climate state change as delivered to controllers.
type Snapshot struct {
	ClimateEntityID string
	State           *climate.State
	Previous        *climate.State

	// Token is the causal origin carried by the state change. It is empty
	// for changes made outside the bridge.
	Token causal.Token

	// TriggeringControllerID is the controller whose command caused the
	// change, or empty when no registered controller matches Token.
	TriggeringControllerID string

	ReceivedAt time.Time
}

// clone returns a copy with its own state values.
func (s Snapshot) clone() Snapshot {
	s.State = s.State.Clone()
	s.Previous = s.Previous.Clone()
	return s
}

// StateUnavailable is the platform state of an entity that cannot be reached.
const StateUnavailable = "unavailable"

// DeviceState is the payload published to hid/<unique_id>/state.
type DeviceState struct {
	ClimateEntityID    string   `json:"climate_entity_id"`
	Available          bool     `json:"available"`
	HVACMode           string   `json:"hvac_mode,omitempty"`
	HVACAction         string   `json:"hvac_action,omitempty"`
	CurrentTemperature *float64 `json:"current_temperature,omitempty"`
	TargetTemperature  *float64 `json:"target_temperature,omitempty"`
	TargetTempHigh     *float64 `json:"target_temp_high,omitempty"`
	TargetTempLow      *float64 `json:"target_temp_low,omitempty"`
	CurrentHumidity    *float64 `json:"current_humidity,omitempty"`
	TargetHumidity     *float64 `json:"target_humidity,omitempty"`
	FanMode            string   `json:"fan_mode,omitempty"`
	SwingMode          string   `json:"swing_mode,omitempty"`
	PresetMode         string   `json:"preset_mode,omitempty"`
	AuxHeat            *bool    `json:"aux_heat,omitempty"`

	// TriggeredBy is the controller that caused this change, if any.
	TriggeredBy string    `json:"triggered_by,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewDeviceState projects a snapshot onto the device state payload.
func NewDeviceState(s Snapshot) DeviceState {
	ds := DeviceState{
		ClimateEntityID: s.ClimateEntityID,
		TriggeredBy:     s.TriggeringControllerID,
		Timestamp:       s.ReceivedAt.UTC(),
	}

	st := s.State
	if st == nil || st.State == StateUnavailable {
		return ds
	}

	ds.Available = true
	ds.HVACMode = st.State
	ds.HVACAction, _ = st.String(climate.AttrHVACAction)
	ds.CurrentTemperature = floatAttr(st, climate.AttrCurrentTemperature)
	ds.TargetTemperature = floatAttr(st, climate.AttrTemperature)
	ds.TargetTempHigh = floatAttr(st, climate.AttrTargetTempHigh)
	ds.TargetTempLow = floatAttr(st, climate.AttrTargetTempLow)
	ds.CurrentHumidity = floatAttr(st, climate.AttrCurrentHumidity)
	ds.TargetHumidity = floatAttr(st, climate.AttrHumidity)
	ds.FanMode, _ = st.String(climate.AttrFanMode)
	ds.SwingMode, _ = st.String(climate.AttrSwingMode)
	ds.PresetMode, _ = st.String(climate.AttrPresetMode)

	switch v := st.Attributes[climate.AttrAuxHeat].(type) {
	case bool:
		ds.AuxHeat = &v
	case string:
		on := v == "on"
		ds.AuxHeat = &on
	}
	return ds
}

func floatAttr(s *climate.State, key string) *float64 {
	v, ok := s.Float(key)
	if !ok {
		return nil
	}
	return &v
}

// Power values accepted in DeviceCommand.Power.
const (
	PowerOn  = "on"
	PowerOff = "off"
)

// DeviceCommand is the payload a controller sends on hid/<unique_id>/command.
// Every field is optional; the fields present are applied in the order they
// are declared.
type DeviceCommand struct {
	Power          string   `json:"power,omitempty"`
	HVACMode       string   `json:"hvac_mode,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	TargetTempHigh *float64 `json:"target_temp_high,omitempty"`
	TargetTempLow  *float64 `json:"target_temp_low,omitempty"`
	FanMode        string   `json:"fan_mode,omitempty"`
	SwingMode      string   `json:"swing_mode,omitempty"`
	PresetMode     string   `json:"preset_mode,omitempty"`
	Humidity       *int     `json:"humidity,omitempty"`
	AuxHeat        *bool    `json:"aux_heat,omitempty"`
}

// empty reports whether the command carries nothing to apply.
func (c DeviceCommand) empty() bool {
	return c == DeviceCommand{}
}

// DecodeDeviceCommand parses a device command payload.
func DecodeDeviceCommand(payload []byte) (DeviceCommand, error) {
	var cmd DeviceCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return DeviceCommand{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if cmd.Power != "" && cmd.Power != PowerOn && cmd.Power != PowerOff {
		return DeviceCommand{}, fmt.Errorf("%w: power must be %q or %q", ErrMalformedPayload, PowerOn, PowerOff)
	}
	if cmd.empty() {
		return DeviceCommand{}, fmt.Errorf("%w: empty command", ErrMalformedPayload)
	}
	return cmd, nil
}
