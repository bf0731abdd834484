package platform

import "errors"

var (
	// ErrInvalidEntity is returned for an empty entity id.
	ErrInvalidEntity = errors.New("platform: invalid entity id")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("platform: nil handler")

	// ErrInvalidState is returned when a state message cannot be decoded.
	ErrInvalidState = errors.New("platform: invalid state message")

	// ErrPublishFailed is returned when a service call cannot be sent.
	ErrPublishFailed = errors.New("platform: publish failed")
)
