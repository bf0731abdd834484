package flow

import (
	"context"
	"errors"
	"strings"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
)

// Input field names.
const (
	FieldControllerID    = "controller_entity_id"
	FieldClimateEntityID = "climate_entity_id"
)

// UserInput is what the user submits to link a controller.
type UserInput struct {
	ControllerID    string `json:"controller_entity_id"`
	ClimateEntityID string `json:"climate_entity_id"`

	// FriendlyName overrides the controller name. Optional.
	FriendlyName string `json:"friendly_name,omitempty"`
}

// Result is a created entry.
type Result struct {
	Entry       *entry.Entry `json:"entry"`
	Description string       `json:"description"`
}

// UserStep validates input, creates the entry and sets it up.
//
// The entry defers registration unless the controller has already been
// discovered. If setup fails the entry is deleted again.
func (m *Manager) UserStep(ctx context.Context, in UserInput) (*Result, error) {
	in.ControllerID = strings.TrimSpace(in.ControllerID)
	in.ClimateEntityID = strings.TrimSpace(in.ClimateEntityID)

	state, err := m.validate(in)
	if err != nil {
		return nil, err
	}

	climateName := state.FriendlyName()
	ctrl := entry.ControllerConfig{
		EntityID:             in.ControllerID,
		FriendlyName:         in.FriendlyName,
		DeferredRegistration: true,
	}
	if p, ok := m.Discovered(in.ControllerID); ok {
		ctrl.Device = p.DeviceInfo()
		ctrl.DeferredRegistration = false
		if ctrl.FriendlyName == "" {
			ctrl.FriendlyName = p.Name
		}
	}

	e := &entry.Entry{
		Title: in.ControllerID,
		Data: entry.Data{
			Controller: ctrl,
			Climate: entry.ClimateLinkConfig{
				EntityID:     in.ClimateEntityID,
				FriendlyName: climateName,
			},
		},
	}

	if err := m.opts.Entries.Create(ctx, e); err != nil {
		if errors.Is(err, entry.ErrEntryExists) {
			return nil, abort(AbortAlreadyConfigured, err)
		}
		return nil, abort(AbortUnknownFailure, err)
	}

	if err := m.opts.Lifecycle.SetupEntry(ctx, e); err != nil {
		m.logger.Error("entry setup failed, rolling back", "entry_id", e.ID, "error", err)
		if delErr := m.opts.Entries.Delete(ctx, e.ID); delErr != nil {
			m.logger.Error("rolling back entry failed", "entry_id", e.ID, "error", delErr)
		}
		return nil, abort(AbortUnknownFailure, err)
	}

	m.logger.Info("entry created",
		"entry_id", e.ID,
		"controller_id", e.ControllerID(),
		"climate_entity", e.ClimateEntityID(),
		"deferred", ctrl.DeferredRegistration)

	return &Result{Entry: e, Description: "Linked to " + climateName}, nil
}

// validate checks both ids and returns the climate entity's state.
func (m *Manager) validate(in UserInput) (*climate.State, error) {
	fields := make(map[string]string)

	switch {
	case in.ControllerID == "":
		fields[FieldControllerID] = ErrCodeRequired
	case !hid.ValidUniqueID(in.ControllerID):
		fields[FieldControllerID] = ErrCodeInvalidUniqueID
	}

	var state *climate.State
	switch {
	case in.ClimateEntityID == "":
		fields[FieldClimateEntityID] = ErrCodeRequired
	case !strings.HasPrefix(in.ClimateEntityID, climate.Domain+"."):
		fields[FieldClimateEntityID] = ErrCodeUnknownEntity
	default:
		s, ok := m.opts.States.GetState(in.ClimateEntityID)
		if !ok {
			fields[FieldClimateEntityID] = ErrCodeUnknownEntity
		}
		state = s
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return state, nil
}
