package climate

import "context"

// TemperatureRequest holds the arguments of set_temperature. Nil fields and an
// empty HVACMode are left out of the call.
type TemperatureRequest struct {
	Temperature    *float64
	TargetTempHigh *float64
	TargetTempLow  *float64
	HVACMode       string
}

// Commands is the climate command facade used by device controllers.
//
// Every method takes the id of the entity that triggered the command; pass ""
// for commands with no causal origin.
type Commands struct {
	service *Service
}

// NewCommands wraps a Service.
func NewCommands(service *Service) *Commands {
	return &Commands{service: service}
}

// GetState returns the current state of an entity.
func (c *Commands) GetState(entityID string) (*State, bool) {
	return c.service.GetState(entityID)
}

// TurnOn turns the climate entity on.
func (c *Commands) TurnOn(ctx context.Context, target, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceTurnOn, target, map[string]any{}, triggeringEntityID)
}

// TurnOff turns the climate entity off.
func (c *Commands) TurnOff(ctx context.Context, target, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceTurnOff, target, map[string]any{}, triggeringEntityID)
}

// SetTemperature sets the target temperature or range.
func (c *Commands) SetTemperature(ctx context.Context, target string, req TemperatureRequest, triggeringEntityID string) error {
	data := make(map[string]any, 4)
	if req.Temperature != nil {
		data[AttrTemperature] = *req.Temperature
	}
	if req.TargetTempHigh != nil {
		data[AttrTargetTempHigh] = *req.TargetTempHigh
	}
	if req.TargetTempLow != nil {
		data[AttrTargetTempLow] = *req.TargetTempLow
	}
	if req.HVACMode != "" {
		data[AttrHVACMode] = req.HVACMode
	}
	return c.service.Call(ctx, ServiceSetTemperature, target, data, triggeringEntityID)
}

// SetSwingMode sets the swing mode.
func (c *Commands) SetSwingMode(ctx context.Context, target, swingMode, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetSwingMode, target, map[string]any{AttrSwingMode: swingMode}, triggeringEntityID)
}

// SetPresetMode sets the preset mode.
func (c *Commands) SetPresetMode(ctx context.Context, target, presetMode, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetPresetMode, target, map[string]any{AttrPresetMode: presetMode}, triggeringEntityID)
}

// SetHVACMode sets the HVAC mode.
func (c *Commands) SetHVACMode(ctx context.Context, target, hvacMode, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetHVACMode, target, map[string]any{AttrHVACMode: hvacMode}, triggeringEntityID)
}

// SetHumidity sets the target humidity in percent.
func (c *Commands) SetHumidity(ctx context.Context, target string, humidity int, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetHumidity, target, map[string]any{AttrHumidity: humidity}, triggeringEntityID)
}

// SetFanMode sets the fan mode.
func (c *Commands) SetFanMode(ctx context.Context, target, fanMode, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetFanMode, target, map[string]any{AttrFanMode: fanMode}, triggeringEntityID)
}

// SetAuxHeat switches auxiliary heat.
func (c *Commands) SetAuxHeat(ctx context.Context, target string, auxHeat bool, triggeringEntityID string) error {
	return c.service.Call(ctx, ServiceSetAuxHeat, target, map[string]any{AttrAuxHeat: auxHeat}, triggeringEntityID)
}
