package entry

import (
	"encoding/json"
	"fmt"
	"time"
)

// DeviceInfo is the hardware metadata of a controller.
type DeviceInfo struct {
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
}

// Merge overlays the non-empty fields of other onto d.
func (d DeviceInfo) Merge(other DeviceInfo) DeviceInfo {
	if other.Model != "" {
		d.Model = other.Model
	}
	if other.Manufacturer != "" {
		d.Manufacturer = other.Manufacturer
	}
	if other.SWVersion != "" {
		d.SWVersion = other.SWVersion
	}
	if other.HWVersion != "" {
		d.HWVersion = other.HWVersion
	}
	return d
}

// ControllerConfig describes the HID controller side of an entry.
//
// EntityID is the controller's unique id; it names the device topics and is
// the identity used for causal tagging.
type ControllerConfig struct {
	EntityID             string     `json:"entity_id"`
	FriendlyName         string     `json:"friendly_name,omitempty"`
	Device               DeviceInfo `json:"device"`
	DeferredRegistration bool       `json:"deferred_registration"`
}

// UnmarshalJSON decodes a controller config. A missing
// deferred_registration key means the controller has not been discovered yet.
func (c *ControllerConfig) UnmarshalJSON(data []byte) error {
	type plain ControllerConfig
	aux := struct {
		*plain
		Deferred *bool `json:"deferred_registration"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.DeferredRegistration = aux.Deferred == nil || *aux.Deferred
	return nil
}

// ClimateLinkConfig names the climate entity a controller drives.
type ClimateLinkConfig struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Data is the JSON body of an entry.
type Data struct {
	Controller ControllerConfig  `json:"controller"`
	Climate    ClimateLinkConfig `json:"climate"`
}

// Entry links one controller to one climate entity.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Data      Data      `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ControllerID returns the controller's unique id.
func (e *Entry) ControllerID() string { return e.Data.Controller.EntityID }

// ClimateEntityID returns the linked climate entity id.
func (e *Entry) ClimateEntityID() string { return e.Data.Climate.EntityID }

// Key identifies the (controller, climate entity) pair.
//
// Example: "HID-TH01-A1B2C3D4E5@climate.living_room"
func (e *Entry) Key() string {
	return e.ControllerID() + "@" + e.ClimateEntityID()
}

// Clone returns a copy of the entry. All fields are values, so a shallow
// copy is sufficient.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Validate checks the fields every persisted entry needs.
func (e *Entry) Validate() error {
	if e.ControllerID() == "" {
		return fmt.Errorf("%w: controller entity_id is required", ErrInvalidEntry)
	}
	if e.ClimateEntityID() == "" {
		return fmt.Errorf("%w: climate entity_id is required", ErrInvalidEntry)
	}
	return nil
}
