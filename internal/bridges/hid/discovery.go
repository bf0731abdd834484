package hid

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/nerrad567/hid-climate-bridge/internal/entry"
)

// Controller unique ids look like "TC-HID-ABCDEF1234567890": two
// alphanumeric groups and a serial of at least ten characters.
const (
	uniqueIDPattern  = `^[A-Z0-9]+-[A-Z0-9]+-[A-Z0-9]{10,}$`
	swVersionPattern = `^(\d+(\.\d+)*)?$`
)

var uniqueIDRegexp = regexp.MustCompile(uniqueIDPattern)

// ValidUniqueID reports whether id is a well-formed controller unique id.
func ValidUniqueID(id string) bool {
	return uniqueIDRegexp.MatchString(id)
}

// discoverySchema describes a discovery announcement. Extra keys are allowed.
var discoverySchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []string{"unique_id"},
	"properties": map[string]any{
		"unique_id": map[string]any{"type": "string", "pattern": uniqueIDPattern},
		"name":      map[string]any{"type": "string"},
		"device": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model":        map[string]any{"type": "string"},
				"manufacturer": map[string]any{"type": "string"},
				"sw_version":   map[string]any{"type": "string", "pattern": swVersionPattern},
				"hw_version":   map[string]any{"type": "string"},
			},
		},
	},
}

var compiledDiscoverySchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(discoverySchema))
})

// DiscoveryDevice is the optional device block of an announcement.
type DiscoveryDevice struct {
	Model        string `json:"model,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	SWVersion    string `json:"sw_version,omitempty"`
	HWVersion    string `json:"hw_version,omitempty"`
}

// DiscoveryPayload is the retained message a controller publishes on
// hid/<unique_id>/config.
type DiscoveryPayload struct {
	UniqueID string           `json:"unique_id"`
	Name     string           `json:"name,omitempty"`
	Device   *DiscoveryDevice `json:"device,omitempty"`
}

// DeviceInfo returns the announced device metadata.
func (p *DiscoveryPayload) DeviceInfo() entry.DeviceInfo {
	if p.Device == nil {
		return entry.DeviceInfo{}
	}
	return entry.DeviceInfo{
		Model:        p.Device.Model,
		Manufacturer: p.Device.Manufacturer,
		SWVersion:    p.Device.SWVersion,
		HWVersion:    p.Device.HWVersion,
	}
}

// ParseDiscoveryPayload decodes and validates a discovery announcement.
//
// Undecodable JSON yields ErrMalformedPayload; a document that decodes but
// breaks the schema yields ErrInvalidDiscovery with the violations listed.
func ParseDiscoveryPayload(payload []byte) (*DiscoveryPayload, error) {
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedPayload)
	}

	schema, err := compiledDiscoverySchema()
	if err != nil {
		return nil, fmt.Errorf("compiling discovery schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDiscovery, strings.Join(msgs, "; "))
	}

	var p DiscoveryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &p, nil
}
