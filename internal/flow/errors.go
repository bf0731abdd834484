package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Abort reasons reported to the caller of a flow step.
const (
	AbortInvalidDiscoveryPayload = "invalid_discovery_payload"
	AbortDeviceValidationFailure = "device_validation_failure"
	AbortAlreadyConfigured       = "already_configured"
	AbortUnknownFailure          = "unknown_failure"
)

// Field error codes reported by the user step.
const (
	ErrCodeInvalidUniqueID = "invalid_unique_id"
	ErrCodeUnknownEntity   = "unknown_entity"
	ErrCodeRequired        = "required"
)

var (
	// ErrNotStarted is returned when a step needs the discovery subscription.
	ErrNotStarted = errors.New("flow: manager not started")

	// ErrValidation is wrapped by ValidationError.
	ErrValidation = errors.New("flow: validation failed")
)

// AbortError ends a flow step with a user-visible reason.
type AbortError struct {
	Reason string
	Err    error
}

func (e *AbortError) Error() string {
	if e.Err == nil {
		return "flow: aborted: " + e.Reason
	}
	return fmt.Sprintf("flow: aborted: %s: %v", e.Reason, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

func abort(reason string, err error) error {
	return &AbortError{Reason: reason, Err: err}
}

// AbortReason returns the reason of an AbortError in err's chain.
func AbortReason(err error) (string, bool) {
	var a *AbortError
	if errors.As(err, &a) {
		return a.Reason, true
	}
	return "", false
}

// ValidationError lists per-field problems with user input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "flow: validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
