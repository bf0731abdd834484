package device

import "time"

// DomainHIDClimate is the registry domain of HID climate controllers.
const DomainHIDClimate = "hid_climate_controller"

// Device is a physical controller known to the bridge.
// Devices are identified by (Domain, ID); ID is the controller's unique id.
type Device struct {
	Domain       string    `json:"domain"`
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	SWVersion    string    `json:"sw_version,omitempty"`
	HWVersion    string    `json:"hw_version,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	return &cpy
}

// Seed describes a device to create or update.
// Empty metadata fields leave the stored value unchanged.
type Seed struct {
	Domain       string
	ID           string
	Name         string
	Manufacturer string
	Model        string
	SWVersion    string
	HWVersion    string
}

// apply overlays the seed onto d.
func (s Seed) apply(d *Device) {
	d.Domain = s.Domain
	d.ID = s.ID
	if s.Name != "" {
		d.Name = s.Name
	}
	if d.Name == "" {
		d.Name = s.ID
	}
	if s.Manufacturer != "" {
		d.Manufacturer = s.Manufacturer
	}
	if s.Model != "" {
		d.Model = s.Model
	}
	if s.SWVersion != "" {
		d.SWVersion = s.SWVersion
	}
	if s.HWVersion != "" {
		d.HWVersion = s.HWVersion
	}
}

type key struct {
	domain string
	id     string
}

func keyOf(domain, id string) key { return key{domain: domain, id: id} }
