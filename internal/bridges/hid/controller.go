package hid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/hid-climate-bridge/internal/metrics"
	"github.com/nerrad567/hid-climate-bridge/internal/throttle"
)

// throttleOpStateChanged is the throttle operation for snapshot publishing.
const throttleOpStateChanged = "state_changed"

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Config is the controller side of the entry.
	Config entry.ControllerConfig

	// ClimateEntityID is the climate entity commands are sent to.
	ClimateEntityID string

	Transport Transport
	Commands  Commands
	Topics    mqtt.Topics

	// Throttle limits snapshot publishing per controller. Required.
	Throttle *throttle.Throttle

	// SuppressEcho skips snapshots this controller triggered itself.
	SuppressEcho bool

	// Logger is optional.
	Logger Logger

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Telemetry is optional.
	Telemetry Telemetry
}

// Controller is one physical HID controller bound to one climate entity.
//
// Thread Safety: safe for concurrent use. StateChanged never panics or
// returns an error to its caller.
type Controller struct {
	id              string
	token           causal.Token
	cfg             entry.ControllerConfig
	climateEntityID string

	transport    Transport
	commands     Commands
	topics       mqtt.Topics
	throttle     *throttle.Throttle
	suppressEcho bool
	logger       Logger
	metrics      *metrics.Metrics
	telemetry    Telemetry

	initOnce     sync.Once
	stateTopic   string
	commandTopic string

	destroyed atomic.Bool
}

// NewController creates a controller. Call Initialize before use.
func NewController(opts ControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Controller{
		id:              opts.Config.EntityID,
		token:           causal.Encode(opts.Config.EntityID),
		cfg:             opts.Config,
		climateEntityID: opts.ClimateEntityID,
		transport:       opts.Transport,
		commands:        opts.Commands,
		topics:          opts.Topics,
		throttle:        opts.Throttle,
		suppressEcho:    opts.SuppressEcho,
		logger:          logger,
		metrics:         opts.Metrics,
		telemetry:       opts.Telemetry,
	}
}

// Initialize derives the device topics. Repeated calls are no-ops.
func (c *Controller) Initialize() {
	c.initOnce.Do(func() {
		c.stateTopic = c.topics.DeviceState(c.id)
		c.commandTopic = c.topics.DeviceCommand(c.id)
	})
}

// ID returns the controller's unique id.
func (c *Controller) ID() string { return c.id }

// Token returns the causal token of this controller.
func (c *Controller) Token() causal.Token { return c.token }

// Config returns the controller config it was created from.
func (c *Controller) Config() entry.ControllerConfig { return c.cfg }

// StateTopic is where snapshots are published.
func (c *Controller) StateTopic() string { return c.stateTopic }

// CommandTopic is where the device sends commands.
func (c *Controller) CommandTopic() string { return c.commandTopic }

// Matches reports whether token was produced by this controller.
func (c *Controller) Matches(token causal.Token) bool {
	return !token.IsZero() && token == c.token
}

// Destroyed reports whether Destroy has been called.
func (c *Controller) Destroyed() bool { return c.destroyed.Load() }

// Destroy releases the controller. Later calls to its methods are no-ops.
func (c *Controller) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	if c.throttle != nil {
		c.throttle.Reset(c.throttleKey())
	}
	c.logger.Debug("controller destroyed", "controller_id", c.id)
}

// throttleKey scopes the cooldown to this controller's climate binding. One
// device linked to two climate entities has one key per link.
func (c *Controller) throttleKey() string {
	return throttle.Key(throttleOpStateChanged, c.climateEntityID, c.id)
}

// StateChanged publishes snap to the device, subject to echo suppression
// and the per-controller throttle.
func (c *Controller) StateChanged(_ context.Context, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.RecordDispatch(metrics.DispatchFailed)
			c.logger.Error("controller state dispatch panicked", "controller_id", c.id, "panic", r)
		}
	}()

	if c.destroyed.Load() {
		return
	}

	if c.suppressEcho && snap.TriggeringControllerID == c.id {
		c.metrics.RecordDispatch(metrics.DispatchEchoSuppressed)
		c.logger.Debug("skipping own echo", "controller_id", c.id, "climate_entity", snap.ClimateEntityID)
		return
	}

	ran := c.throttle.Call(c.throttleKey(), func() {
		c.publishState(snap)
	})
	if !ran {
		c.metrics.RecordDispatch(metrics.DispatchThrottled)
		c.logger.Debug("snapshot throttled", "controller_id", c.id)
	}
}

func (c *Controller) publishState(snap Snapshot) {
	payload, err := json.Marshal(NewDeviceState(snap))
	if err != nil {
		c.metrics.RecordDispatch(metrics.DispatchFailed)
		c.logger.Error("encoding device state failed", "controller_id", c.id, "error", err)
		return
	}

	if err := c.transport.Publish(c.stateTopic, payload); err != nil {
		c.metrics.RecordDispatch(metrics.DispatchFailed)
		c.logger.Warn("publishing device state failed", "controller_id", c.id, "topic", c.stateTopic, "error", err)
		return
	}
	c.metrics.RecordDispatch(metrics.DispatchPublished)
}

// HandleCommand decodes a device command and issues the matching climate
// service calls against the bound climate entity, tagged with this
// controller's id. A power-off command is sent alone; any other fields in
// the same payload are ignored.
func (c *Controller) HandleCommand(ctx context.Context, payload []byte) error {
	if c.destroyed.Load() {
		return nil
	}

	cmd, err := DecodeDeviceCommand(payload)
	if err != nil {
		return err
	}

	target := c.climateEntityID
	var errs []error
	run := func(name string, call func() error) {
		err := call()
		c.metrics.RecordCommand(name, err == nil)
		if c.telemetry != nil {
			c.telemetry.WriteCommand(c.id, target, name, err == nil)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch cmd.Power {
	case PowerOff:
		run(climate.ServiceTurnOff, func() error { return c.commands.TurnOff(ctx, target, c.id) })
		return errors.Join(errs...)
	case PowerOn:
		run(climate.ServiceTurnOn, func() error { return c.commands.TurnOn(ctx, target, c.id) })
	}

	if cmd.HVACMode != "" {
		run(climate.ServiceSetHVACMode, func() error { return c.commands.SetHVACMode(ctx, target, cmd.HVACMode, c.id) })
	}
	if cmd.Temperature != nil || cmd.TargetTempHigh != nil || cmd.TargetTempLow != nil {
		req := climate.TemperatureRequest{
			Temperature:    cmd.Temperature,
			TargetTempHigh: cmd.TargetTempHigh,
			TargetTempLow:  cmd.TargetTempLow,
		}
		run(climate.ServiceSetTemperature, func() error { return c.commands.SetTemperature(ctx, target, req, c.id) })
	}
	if cmd.FanMode != "" {
		run(climate.ServiceSetFanMode, func() error { return c.commands.SetFanMode(ctx, target, cmd.FanMode, c.id) })
	}
	if cmd.SwingMode != "" {
		run(climate.ServiceSetSwingMode, func() error { return c.commands.SetSwingMode(ctx, target, cmd.SwingMode, c.id) })
	}
	if cmd.PresetMode != "" {
		run(climate.ServiceSetPresetMode, func() error { return c.commands.SetPresetMode(ctx, target, cmd.PresetMode, c.id) })
	}
	if cmd.Humidity != nil {
		run(climate.ServiceSetHumidity, func() error { return c.commands.SetHumidity(ctx, target, *cmd.Humidity, c.id) })
	}
	if cmd.AuxHeat != nil {
		run(climate.ServiceSetAuxHeat, func() error { return c.commands.SetAuxHeat(ctx, target, *cmd.AuxHeat, c.id) })
	}

	return errors.Join(errs...)
}
