package hid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/hid-climate-bridge/internal/concurrent"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/hid-climate-bridge/internal/metrics"
	"github.com/nerrad567/hid-climate-bridge/internal/throttle"
)

// EntryStore persists rewritten entries. *entry.SQLiteRepository satisfies it.
type EntryStore interface {
	Update(ctx context.Context, e *entry.Entry) error
}

// DeviceRegistry records physical controllers. *device.Registry satisfies it.
type DeviceRegistry interface {
	UpsertDevice(ctx context.Context, seed device.Seed) (*device.Device, error)
}

// DiscoveryCache returns announcements already seen on the global
// discovery subscription.
type DiscoveryCache interface {
	Discovered(uniqueID string) (*DiscoveryPayload, bool)
}

// DiscoveryCacheFunc adapts a function to DiscoveryCache.
type DiscoveryCacheFunc func(uniqueID string) (*DiscoveryPayload, bool)

// Discovered calls f.
func (f DiscoveryCacheFunc) Discovered(uniqueID string) (*DiscoveryPayload, bool) {
	return f(uniqueID)
}

// CoordinatorOptions holds configuration for creating a coordinator.
type CoordinatorOptions struct {
	Transport Transport
	Stream    StateStream
	Topics    mqtt.Topics

	// Entries persists entries rewritten by discovery. Optional.
	Entries EntryStore

	// Devices records registered controllers. Optional.
	Devices DeviceRegistry

	// Discovery short-circuits deferred registrations for controllers that
	// have already announced themselves. Optional.
	Discovery DiscoveryCache

	// Throttle is shared by every controller. A default one is created
	// when nil.
	Throttle *throttle.Throttle

	SuppressEcho bool

	// Observers are passed to every bridge.
	Observers []SnapshotObserver

	// OnEntryUpdated is called after a deferred entry has been rewritten
	// and persisted. Optional.
	OnEntryUpdated func(*entry.Entry)

	Logger    Logger
	Metrics   *metrics.Metrics
	Telemetry Telemetry
}

// BridgeInfo describes one active bridge.
type BridgeInfo struct {
	ClimateEntityID string    `json:"climate_entity_id"`
	FriendlyName    string    `json:"friendly_name,omitempty"`
	Controllers     []string  `json:"controllers"`
	Snapshot        *Snapshot `json:"-"`
}

// pendingRegistration is an entry waiting for its discovery announcement.
type pendingRegistration struct {
	entry *entry.Entry

	mu          sync.Mutex
	unsubscribe func()
	released    bool
}

// attach stores the subscription handle, or drops it straight away if the
// registration was released first.
func (p *pendingRegistration) attach(unsubscribe func()) {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		unsubscribe()
		return
	}
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
}

func (p *pendingRegistration) release() {
	p.mu.Lock()
	p.released = true
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Coordinator owns every climate bridge and every pending registration.
//
// Create one per process in the composition root and pass it to whatever
// drives the entry lifecycle.
//
// Thread Safety: all methods are safe for concurrent use.
type Coordinator struct {
	opts   CoordinatorOptions
	logger Logger

	initOnce sync.Once
	commands Commands

	bridges *concurrent.Registry[string, *Bridge]
	pending *concurrent.Registry[string, *pendingRegistration]

	// lifecycleMu serialises registration and unload so a bridge cannot be
	// emptied and destroyed while a controller is being added to it.
	lifecycleMu sync.Mutex
	regs        map[string]*registration

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewCoordinator creates a coordinator. Call Init before setting up entries.
func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	if opts.Throttle == nil {
		opts.Throttle = throttle.New(throttle.DefaultCooldown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		opts:      opts,
		logger:    logger,
		bridges:   concurrent.New[string, *Bridge](),
		pending:   concurrent.New[string, *pendingRegistration](),
		regs:      make(map[string]*registration),
		ctx:       ctx,
		ctxCancel: cancel,
	}
}

// Init wires the climate command facade. Calls after the first are no-ops.
func (c *Coordinator) Init(commands Commands) {
	c.initOnce.Do(func() {
		c.commands = commands
		c.logger.Info("registration coordinator initialised")
	})
}

func (c *Coordinator) initialized() bool {
	return c.commands != nil
}

// SetupEntry registers e now, or waits for its controller's discovery
// announcement when the entry is deferred.
func (c *Coordinator) SetupEntry(ctx context.Context, e *entry.Entry) error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	if err := c.validate(e); err != nil {
		return err
	}

	deferred := e.Data.Controller.DeferredRegistration
	c.lifecycleMu.Lock()
	if _, exists := c.regs[e.Key()]; !exists {
		c.regs[e.Key()] = newRegistration(e.Key(), deferred, c.logger)
	}
	c.lifecycleMu.Unlock()

	if deferred {
		return c.startDeferredRegistration(ctx, e)
	}
	return c.registerImmediately(ctx, e)
}

func (c *Coordinator) validate(e *entry.Entry) error {
	switch {
	case e == nil || e.ControllerID() == "":
		c.logger.Warn("entry without controller entity_id skipped")
		return ErrMissingEntityID
	case e.ClimateEntityID() == "":
		c.logger.Warn("entry without climate entity_id skipped", "controller_id", e.ControllerID())
		return ErrMissingClimateLink
	}
	return nil
}

// registerImmediately records the device, gets or creates the bridge for
// the climate entity and registers the controller on it. An entry unloaded
// in the meantime is skipped without touching the device registry.
func (c *Coordinator) registerImmediately(ctx context.Context, e *entry.Entry) error {
	if err := c.validate(e); err != nil {
		return err
	}

	ctrl := e.Data.Controller

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	reg, ok := c.regs[e.Key()]
	if !ok || reg.state() == StateUnloaded {
		c.logger.Debug("entry unloaded before registration completed", "entry", e.Key())
		return nil
	}

	// Recorded under lifecycleMu so an unload cannot slip in between and
	// leave a device behind for a removed entry.
	if c.opts.Devices != nil {
		name := ctrl.FriendlyName
		if name == "" {
			name = ctrl.EntityID
		}
		_, err := c.opts.Devices.UpsertDevice(ctx, device.Seed{
			Domain:       device.DomainHIDClimate,
			ID:           ctrl.EntityID,
			Name:         name,
			Manufacturer: ctrl.Device.Manufacturer,
			Model:        ctrl.Device.Model,
			SWVersion:    ctrl.Device.SWVersion,
			HWVersion:    ctrl.Device.HWVersion,
		})
		if err != nil {
			return fmt.Errorf("recording device %s: %w", ctrl.EntityID, err)
		}
	}

	climateID := e.ClimateEntityID()
	bridge, err := c.bridges.GetOrConstructAsync(ctx, climateID, func(context.Context) (*Bridge, error) {
		return NewBridge(BridgeOptions{
			Link:         e.Data.Climate,
			Commands:     c.commands,
			Stream:       c.opts.Stream,
			Transport:    c.opts.Transport,
			Topics:       c.opts.Topics,
			Throttle:     c.opts.Throttle,
			SuppressEcho: c.opts.SuppressEcho,
			OnRemoval:    c.removeBridge,
			Observers:    c.opts.Observers,
			Logger:       c.logger,
			Metrics:      c.opts.Metrics,
			Telemetry:    c.opts.Telemetry,
		})
	})
	if err != nil {
		return fmt.Errorf("creating bridge for %s: %w", climateID, err)
	}

	if _, err := bridge.RegisterController(ctx, ctrl); err != nil {
		return err
	}
	if err := reg.fire(ctx, EventRegister); err != nil {
		return err
	}

	c.updateTopologyLocked()
	return nil
}

// startDeferredRegistration subscribes to the controller's discovery topic
// and parks the entry until a matching announcement arrives.
func (c *Coordinator) startDeferredRegistration(ctx context.Context, e *entry.Entry) error {
	uid := e.ControllerID()

	// The controller may have announced itself before this entry existed.
	// Its retained message is not replayed to a second handler on a shared
	// topic, so use the cached announcement.
	if c.opts.Discovery != nil {
		if p, ok := c.opts.Discovery.Discovered(uid); ok && p.UniqueID == uid {
			c.logger.Info("controller already discovered", "controller_id", uid)
			return c.resolveDeferred(ctx, e, p)
		}
	}

	key := e.Key()
	pending := &pendingRegistration{entry: e.Clone()}
	if _, created := c.pending.GetOrConstruct(key, func() *pendingRegistration { return pending }); !created {
		return nil
	}

	topic := c.opts.Topics.DeviceConfig(uid)
	unsub, err := c.opts.Transport.Subscribe(topic, c.discoveryHandler(key))
	if err != nil {
		c.pending.Remove(key)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	pending.attach(unsub)

	c.logger.Info("waiting for controller discovery", "controller_id", uid, "topic", topic)
	c.updateTopology()
	return nil
}

// StopDeferredRegistrationIfPending drops the pending registration of the
// (controller, climate entity) pair and releases its subscription. It
// reports whether one was pending.
func (c *Coordinator) StopDeferredRegistrationIfPending(uniqueID, climateEntityID string) bool {
	stopped := c.stopPending(uniqueID + "@" + climateEntityID)
	if stopped {
		c.updateTopology()
	}
	return stopped
}

func (c *Coordinator) stopPending(key string) bool {
	return c.pending.RemoveAndRun(key, func(p *pendingRegistration) { p.release() }, nil)
}

// discoveryHandler hands discovery messages off the delivery goroutine.
func (c *Coordinator) discoveryHandler(key string) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		if c.ctx.Err() != nil {
			return nil
		}
		data := append([]byte(nil), payload...)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleDeferredDiscoveryMessage(c.ctx, key, topic, data)
		}()
		return nil
	}
}

// uniqueIDFromTopic returns the second-to-last segment of topic.
func uniqueIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" {
		return "", false
	}
	return parts[len(parts)-2], true
}

// handleDeferredDiscoveryMessage resolves the pending registration under
// key. Invalid payloads are logged and leave the registration pending.
func (c *Coordinator) handleDeferredDiscoveryMessage(ctx context.Context, key, topic string, payload []byte) {
	uid, ok := uniqueIDFromTopic(topic)
	if !ok {
		c.logger.Warn("discovery message on unexpected topic", "topic", topic)
		return
	}

	p, err := ParseDiscoveryPayload(payload)
	if err != nil {
		c.opts.Metrics.RecordDiscovery(metrics.DiscoveryInvalid)
		if c.opts.Telemetry != nil {
			c.opts.Telemetry.WriteDiscovery(uid, "", false)
		}
		c.logger.Warn("invalid discovery payload ignored", "controller_id", uid, "error", err)
		return
	}

	if p.UniqueID != uid {
		c.opts.Metrics.RecordDiscovery(metrics.DiscoveryStale)
		c.logger.Warn("discovery unique_id does not match topic, dropping pending registration",
			"topic_id", uid, "payload_id", p.UniqueID)
		if c.stopPending(key) {
			c.updateTopology()
		}
		return
	}

	// Only one message may resolve the registration.
	pending, ok := c.pending.Remove(key)
	if !ok {
		return
	}

	if err := c.resolveDeferred(ctx, pending.entry, p); err != nil {
		persistFailed := errors.Is(err, errPersistFailed)
		switch {
		case persistFailed && c.rearm(key, pending):
			c.logger.Error("persisting discovered entry failed, registration stays pending",
				"controller_id", uid, "error", err)
			return
		case persistFailed:
			c.logger.Debug("entry unloaded while persisting discovery", "entry", key, "error", err)
		default:
			c.logger.Error("registering discovered controller failed", "controller_id", uid, "error", err)
		}
	}
	pending.release()
	c.updateTopology()
}

var errPersistFailed = errors.New("hid: persisting entry failed")

// rearm puts pending back under key if its entry is still loaded and waiting
// for discovery. It reports whether it did; the caller releases pending
// otherwise.
func (c *Coordinator) rearm(key string, pending *pendingRegistration) bool {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	reg, ok := c.regs[key]
	if !ok || reg.state() != StateAwaitingDiscovery {
		return false
	}
	_, created := c.pending.GetOrConstruct(key, func() *pendingRegistration { return pending })
	return created
}

// resolveDeferred merges the announcement into e, persists it and
// registers the controller.
func (c *Coordinator) resolveDeferred(ctx context.Context, e *entry.Entry, p *DiscoveryPayload) error {
	updated := e.Clone()
	ctrl := &updated.Data.Controller
	ctrl.Device = ctrl.Device.Merge(p.DeviceInfo())
	if ctrl.FriendlyName == "" {
		ctrl.FriendlyName = p.Name
	}
	ctrl.DeferredRegistration = false

	if c.opts.Entries != nil {
		if err := c.opts.Entries.Update(ctx, updated); err != nil {
			return fmt.Errorf("%w: %w", errPersistFailed, err)
		}
	}

	c.opts.Metrics.RecordDiscovery(metrics.DiscoveryAccepted)
	if c.opts.Telemetry != nil {
		c.opts.Telemetry.WriteDiscovery(ctrl.EntityID, ctrl.Device.SWVersion, true)
	}
	c.logger.Info("controller discovered", "controller_id", ctrl.EntityID, "model", ctrl.Device.Model)

	c.lifecycleMu.Lock()
	if reg, ok := c.regs[e.Key()]; ok {
		if err := reg.fire(ctx, EventDiscovered); err != nil {
			c.logger.Warn("registration transition rejected", "entry", e.Key(), "error", err)
		}
	}
	c.lifecycleMu.Unlock()

	if c.opts.OnEntryUpdated != nil {
		c.opts.OnEntryUpdated(updated.Clone())
	}
	return c.registerImmediately(ctx, updated)
}

// UnloadEntry stops a pending registration of e and unregisters its
// controller if it was registered.
func (c *Coordinator) UnloadEntry(ctx context.Context, e *entry.Entry) error {
	if err := c.validate(e); err != nil {
		return err
	}
	key := e.Key()

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.stopPending(key)

	registered := !e.Data.Controller.DeferredRegistration
	reg, ok := c.regs[key]
	if ok {
		registered = reg.state() == StateRegistered
	}

	if registered {
		if bridge, found := c.bridges.Get(e.ClimateEntityID()); found {
			if _, err := bridge.UnregisterController(ctx, e.Data.Controller); err != nil {
				c.logger.Warn("unregistering controller failed", "entry", key, "error", err)
			}
		}
	}

	if ok {
		if err := reg.fire(ctx, EventUnload); err != nil {
			c.logger.Warn("registration transition rejected", "entry", key, "error", err)
		}
		delete(c.regs, key)
	}

	c.logger.Info("entry unloaded", "entry", key)
	c.updateTopologyLocked()
	return nil
}

// removeBridge is the bridge removal callback.
func (c *Coordinator) removeBridge(climateEntityID string) {
	c.bridges.RemoveAndRun(climateEntityID,
		func(b *Bridge) { b.Destroy() },
		func(b *Bridge) bool { return !b.Destroyed() },
	)
}

// Bridge returns the active bridge for a climate entity.
func (c *Coordinator) Bridge(climateEntityID string) (*Bridge, bool) {
	return c.bridges.Get(climateEntityID)
}

// Bridges describes every active bridge, ordered by climate entity id.
func (c *Coordinator) Bridges() []BridgeInfo {
	bridges := c.bridges.Values()
	out := make([]BridgeInfo, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, BridgeInfo{
			ClimateEntityID: b.ClimateEntityID(),
			FriendlyName:    b.Link().FriendlyName,
			Controllers:     b.Controllers(),
			Snapshot:        b.Snapshot(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClimateEntityID < out[j].ClimateEntityID })
	return out
}

// PendingCount returns the number of entries waiting for discovery.
func (c *Coordinator) PendingCount() int {
	return c.pending.Len()
}

// RegistrationState returns the lifecycle state of an entry, or "" when the
// coordinator does not know it.
func (c *Coordinator) RegistrationState(e *entry.Entry) string {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if reg, ok := c.regs[e.Key()]; ok {
		return reg.state()
	}
	return ""
}

func (c *Coordinator) updateTopology() {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.updateTopologyLocked()
}

func (c *Coordinator) updateTopologyLocked() {
	if c.opts.Metrics == nil {
		return
	}
	controllers := 0
	for _, b := range c.bridges.Values() {
		controllers += b.ControllerCount()
	}
	c.opts.Metrics.SetTopology(c.bridges.Len(), controllers, c.pending.Len())
}

// Shutdown waits for in-flight discovery handling, releases every pending
// subscription and destroys every bridge.
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() {
		c.ctxCancel()
		c.wg.Wait()

		for _, key := range c.pending.Keys() {
			c.stopPending(key)
		}
		for _, id := range c.bridges.Keys() {
			c.bridges.RemoveAndRun(id, func(b *Bridge) { b.Destroy() }, nil)
		}

		c.lifecycleMu.Lock()
		c.regs = make(map[string]*registration)
		c.lifecycleMu.Unlock()

		c.logger.Info("registration coordinator stopped")
	})
}
