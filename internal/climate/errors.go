package climate

import "errors"

var (
	// ErrMissingTarget is returned when a service call has no target entity.
	ErrMissingTarget = errors.New("climate: target entity id is required")

	// ErrUnknownService is returned for an empty or unsupported service name.
	ErrUnknownService = errors.New("climate: unknown service")

	// ErrServiceCallFailed wraps a platform dispatch failure.
	ErrServiceCallFailed = errors.New("climate: service call failed")
)
