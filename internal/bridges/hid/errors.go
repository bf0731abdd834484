package hid

import "errors"

// Domain errors for the HID bridge package.
var (
	// ErrMissingEntityID is returned when a controller config has no entity id.
	ErrMissingEntityID = errors.New("hid: controller entity_id missing")

	// ErrMissingClimateLink is returned when an entry has no climate entity id.
	ErrMissingClimateLink = errors.New("hid: climate entity_id missing")

	// ErrMalformedPayload is returned for undecodable discovery or command JSON.
	ErrMalformedPayload = errors.New("hid: malformed payload")

	// ErrInvalidDiscovery is returned when a discovery payload fails schema
	// validation.
	ErrInvalidDiscovery = errors.New("hid: invalid discovery payload")

	// ErrBridgeDestroyed is returned when registering on a destroyed bridge.
	ErrBridgeDestroyed = errors.New("hid: bridge destroyed")

	// ErrNotInitialized is returned when the coordinator is used before Init.
	ErrNotInitialized = errors.New("hid: coordinator not initialized")

	// ErrSubscribeFailed is returned when a transport subscription fails.
	ErrSubscribeFailed = errors.New("hid: subscribe failed")
)
