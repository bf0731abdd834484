package hid

import (
	"errors"
	"testing"
)

func TestValidUniqueID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"TC-HID-ABCDEF1234567890", true},
		{"A-B-0123456789", true},
		{"TC-HID-SHORT", false},
		{"tc-hid-abcdef1234567890", false},
		{"TCHIDABCDEF1234567890", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidUniqueID(tt.id); got != tt.want {
			t.Errorf("ValidUniqueID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestParseDiscoveryPayload(t *testing.T) {
	p, err := ParseDiscoveryPayload([]byte(`{"unique_id":"TC-HID-ABCDEF1234567890","name":"Hall","device":{"model":"X1","manufacturer":"Acme","sw_version":"1.2.3"},"extra":true}`))
	if err != nil {
		t.Fatalf("ParseDiscoveryPayload() error = %v", err)
	}
	if p.UniqueID != testUniqueID || p.Name != "Hall" {
		t.Errorf("payload = %+v", p)
	}
	info := p.DeviceInfo()
	if info.Model != "X1" || info.Manufacturer != "Acme" || info.SWVersion != "1.2.3" {
		t.Errorf("DeviceInfo() = %+v", info)
	}

	bare, err := ParseDiscoveryPayload([]byte(`{"unique_id":"TC-HID-ABCDEF1234567890"}`))
	if err != nil {
		t.Fatalf("minimal payload error = %v", err)
	}
	if bare.DeviceInfo().Model != "" {
		t.Errorf("minimal DeviceInfo() = %+v", bare.DeviceInfo())
	}
}

func TestParseDiscoveryPayload_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"truncated", `{"unique_id":"TC-HID`, ErrMalformedPayload},
		{"not json", `hello`, ErrMalformedPayload},
		{"missing unique_id", `{"name":"Hall"}`, ErrInvalidDiscovery},
		{"bad unique_id", `{"unique_id":"nope"}`, ErrInvalidDiscovery},
		{"numeric unique_id", `{"unique_id":42}`, ErrInvalidDiscovery},
		{"bad sw_version", `{"unique_id":"TC-HID-ABCDEF1234567890","device":{"sw_version":"v1"}}`, ErrInvalidDiscovery},
		{"device not object", `{"unique_id":"TC-HID-ABCDEF1234567890","device":"X1"}`, ErrInvalidDiscovery},
		{"array", `[]`, ErrInvalidDiscovery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDiscoveryPayload([]byte(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}
