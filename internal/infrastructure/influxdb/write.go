package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementClimate  = "climate_snapshot"
	MeasurementCommand  = "controller_command"
	MeasurementDiscover = "controller_discovery"
)

// ClimateSnapshot is one climate state forwarded to a controller.
// Nil readings are left out of the point.
type ClimateSnapshot struct {
	ControllerID       string
	EntityID           string
	HVACMode           string
	CurrentTemperature *float64
	TargetTemperature  *float64
	CurrentHumidity    *float64
	Time               time.Time
}

// WriteClimateSnapshot records a snapshot. Calls on a nil or closed client
// are dropped, which lets the bridge run without InfluxDB configured.
func (c *Client) WriteClimateSnapshot(s ClimateSnapshot) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]any{
		"hvac_mode": s.HVACMode,
	}
	if s.CurrentTemperature != nil {
		fields["current_temperature"] = *s.CurrentTemperature
	}
	if s.TargetTemperature != nil {
		fields["target_temperature"] = *s.TargetTemperature
	}
	if s.CurrentHumidity != nil {
		fields["current_humidity"] = *s.CurrentHumidity
	}

	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementClimate,
		map[string]string{
			"controller_id": s.ControllerID,
			"entity_id":     s.EntityID,
		},
		fields,
		ts,
	))
}

// WriteCommand records the outcome of one controller command.
func (c *Client) WriteCommand(controllerID, entityID, command string, ok bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementCommand,
		map[string]string{
			"controller_id": controllerID,
			"entity_id":     entityID,
			"command":       command,
		},
		map[string]any{"ok": ok},
		time.Now(),
	))
}

// WriteDiscovery records a discovery announcement.
func (c *Client) WriteDiscovery(controllerID, swVersion string, valid bool) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(write.NewPoint(
		MeasurementDiscover,
		map[string]string{"controller_id": controllerID},
		map[string]any{"sw_version": swVersion, "valid": valid},
		time.Now(),
	))
}
