package hid

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/concurrent"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/hid-climate-bridge/internal/metrics"
	"github.com/nerrad567/hid-climate-bridge/internal/throttle"
)

// Transport is the publish/subscribe surface used for device topics.
// *mqtt.Mux satisfies it.
type Transport interface {
	// Subscribe registers handler for topic. The returned function removes
	// it and is safe to call more than once.
	Subscribe(topic string, handler mqtt.MessageHandler) (unsubscribe func(), err error)

	// Publish sends a non-retained message.
	Publish(topic string, payload []byte) error
}

// Commands is the climate command facade. *climate.Commands satisfies it.
type Commands interface {
	GetState(entityID string) (*climate.State, bool)
	TurnOn(ctx context.Context, target, triggeringEntityID string) error
	TurnOff(ctx context.Context, target, triggeringEntityID string) error
	SetTemperature(ctx context.Context, target string, req climate.TemperatureRequest, triggeringEntityID string) error
	SetSwingMode(ctx context.Context, target, swingMode, triggeringEntityID string) error
	SetPresetMode(ctx context.Context, target, presetMode, triggeringEntityID string) error
	SetHVACMode(ctx context.Context, target, hvacMode, triggeringEntityID string) error
	SetHumidity(ctx context.Context, target string, humidity int, triggeringEntityID string) error
	SetFanMode(ctx context.Context, target, fanMode, triggeringEntityID string) error
	SetAuxHeat(ctx context.Context, target string, auxHeat bool, triggeringEntityID string) error
}

// StateStream delivers state changes for one entity. climate.Platform
// satisfies it.
type StateStream interface {
	SubscribeStateChanges(entityID string, handler climate.StateChangeHandler) (unsubscribe func(), err error)
}

// Telemetry records command and discovery outcomes. *influxdb.Client
// satisfies it.
type Telemetry interface {
	WriteCommand(controllerID, entityID, command string, ok bool)
	WriteDiscovery(controllerID, swVersion string, valid bool)
}

// SnapshotObserver is notified after every fan-out. It runs on the bridge
// worker and must not block.
type SnapshotObserver func(Snapshot)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Link names the climate entity. Required.
	Link entry.ClimateLinkConfig

	Commands  Commands
	Stream    StateStream
	Transport Transport
	Topics    mqtt.Topics

	// Throttle is shared by the bridge's controllers. A default one is
	// created when nil.
	Throttle *throttle.Throttle

	// SuppressEcho is passed to every controller.
	SuppressEcho bool

	// OnRemoval is called with the climate entity id when the last
	// controller unregisters.
	OnRemoval func(climateEntityID string)

	// Observers are notified after each fan-out.
	Observers []SnapshotObserver

	Logger    Logger
	Metrics   *metrics.Metrics
	Telemetry Telemetry
}

// Bridge owns every controller linked to one climate entity.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	climateEntityID string
	link            entry.ClimateLinkConfig

	commands     Commands
	transport    Transport
	topics       mqtt.Topics
	throttle     *throttle.Throttle
	suppressEcho bool
	onRemoval    func(string)
	observers    []SnapshotObserver
	logger       Logger
	metrics      *metrics.Metrics
	telemetry    Telemetry

	controllers *concurrent.Registry[string, *Controller]

	// membershipMu makes "remove the last controller" and its removal
	// callback a single step.
	membershipMu sync.Mutex

	commandSubs   map[string]func()
	commandSubsMu sync.Mutex

	last   *Snapshot
	lastMu sync.RWMutex

	unsubscribeState func()

	queue     []func()
	queueMu   sync.Mutex
	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	destroyed atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewBridge creates a bridge, seeds its baseline snapshot from the current
// entity state and subscribes to the entity's state changes.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Link.EntityID == "" {
		return nil, ErrMissingClimateLink
	}
	if opts.Commands == nil || opts.Stream == nil || opts.Transport == nil {
		return nil, fmt.Errorf("hid: bridge for %s: commands, stream and transport are required", opts.Link.EntityID)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	th := opts.Throttle
	if th == nil {
		th = throttle.New(throttle.DefaultCooldown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		climateEntityID: opts.Link.EntityID,
		link:            opts.Link,
		commands:        opts.Commands,
		transport:       opts.Transport,
		topics:          opts.Topics,
		throttle:        th,
		suppressEcho:    opts.SuppressEcho,
		onRemoval:       opts.OnRemoval,
		observers:       opts.Observers,
		logger:          logger,
		metrics:         opts.Metrics,
		telemetry:       opts.Telemetry,
		controllers:     concurrent.New[string, *Controller](),
		commandSubs:     make(map[string]func()),
		wake:            make(chan struct{}, 1),
		done:            make(chan struct{}),
		ctx:             ctx,
		ctxCancel:       cancel,
	}

	if state, ok := opts.Commands.GetState(b.climateEntityID); ok {
		b.last = &Snapshot{
			ClimateEntityID: b.climateEntityID,
			State:           state,
			Token:           state.Context.ParentID,
			ReceivedAt:      time.Now(),
		}
	}

	unsub, err := opts.Stream.SubscribeStateChanges(b.climateEntityID, b.enqueueStateChange)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: state changes of %s: %w", ErrSubscribeFailed, b.climateEntityID, err)
	}
	b.unsubscribeState = unsub

	b.wg.Add(1)
	go b.worker()

	b.logger.Info("climate bridge created", "climate_entity", b.climateEntityID)
	return b, nil
}

// ClimateEntityID returns the climate entity this bridge serves.
func (b *Bridge) ClimateEntityID() string { return b.climateEntityID }

// Link returns the climate link config the bridge was created with.
func (b *Bridge) Link() entry.ClimateLinkConfig { return b.link }

// Destroyed reports whether Destroy has been called.
func (b *Bridge) Destroyed() bool { return b.destroyed.Load() }

// Snapshot returns a copy of the latest baseline snapshot, or nil.
func (b *Bridge) Snapshot() *Snapshot {
	b.lastMu.RLock()
	defer b.lastMu.RUnlock()
	if b.last == nil {
		return nil
	}
	s := b.last.clone()
	return &s
}

// Controller returns a registered controller.
func (b *Bridge) Controller(id string) (*Controller, bool) {
	return b.controllers.Get(id)
}

// Controllers returns the ids of the registered controllers, sorted.
func (b *Bridge) Controllers() []string {
	ids := b.controllers.Keys()
	sort.Strings(ids)
	return ids
}

// ControllerCount returns the number of registered controllers.
func (b *Bridge) ControllerCount() int {
	return b.controllers.Len()
}

// RegisterController adds the controller described by cfg, or returns the
// existing one. A new controller gets its command topic subscribed. The
// latest snapshot is queued for delivery to the controller either way.
func (b *Bridge) RegisterController(_ context.Context, cfg entry.ControllerConfig) (*Controller, error) {
	if cfg.EntityID == "" {
		b.logger.Warn("controller config without entity_id ignored", "climate_entity", b.climateEntityID)
		return nil, ErrMissingEntityID
	}

	b.membershipMu.Lock()
	defer b.membershipMu.Unlock()

	if b.destroyed.Load() {
		return nil, ErrBridgeDestroyed
	}

	c, created := b.controllers.GetOrConstruct(cfg.EntityID, func() *Controller {
		c := NewController(ControllerOptions{
			Config:          cfg,
			ClimateEntityID: b.climateEntityID,
			Transport:       b.transport,
			Commands:        b.commands,
			Topics:          b.topics,
			Throttle:        b.throttle,
			SuppressEcho:    b.suppressEcho,
			Logger:          b.logger,
			Metrics:         b.metrics,
			Telemetry:       b.telemetry,
		})
		c.Initialize()
		return c
	})

	if created {
		unsub, err := b.transport.Subscribe(c.CommandTopic(), b.commandHandler(c))
		if err != nil {
			b.controllers.Remove(cfg.EntityID)
			c.Destroy()
			return nil, fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, c.CommandTopic(), err)
		}
		b.commandSubsMu.Lock()
		b.commandSubs[c.ID()] = unsub
		b.commandSubsMu.Unlock()

		b.logger.Info("controller registered",
			"controller_id", c.ID(),
			"climate_entity", b.climateEntityID,
			"command_topic", c.CommandTopic())
	}

	if snap := b.Snapshot(); snap != nil {
		b.enqueue(func() { c.StateChanged(b.ctx, *snap) })
	}
	return c, nil
}

// UnregisterController removes and destroys the controller described by cfg.
// When it was the last one, OnRemoval is called exactly once. It reports
// whether a controller was removed.
func (b *Bridge) UnregisterController(_ context.Context, cfg entry.ControllerConfig) (bool, error) {
	if cfg.EntityID == "" {
		b.logger.Warn("controller config without entity_id ignored", "climate_entity", b.climateEntityID)
		return false, ErrMissingEntityID
	}

	b.membershipMu.Lock()
	removed := b.controllers.RemoveAndRun(cfg.EntityID, func(c *Controller) { c.Destroy() }, nil)
	if removed {
		b.releaseCommandSubscription(cfg.EntityID)
		b.logger.Info("controller unregistered", "controller_id", cfg.EntityID, "climate_entity", b.climateEntityID)
	}
	empty := removed && b.controllers.Len() == 0
	b.membershipMu.Unlock()

	if empty && b.onRemoval != nil {
		b.onRemoval(b.climateEntityID)
	}
	return removed, nil
}

func (b *Bridge) releaseCommandSubscription(id string) {
	b.commandSubsMu.Lock()
	unsub, ok := b.commandSubs[id]
	delete(b.commandSubs, id)
	b.commandSubsMu.Unlock()
	if ok {
		unsub()
	}
}

// Destroy unsubscribes from the state stream and every command topic and
// stops the worker. Safe to call more than once. Must not be called from an
// observer.
func (b *Bridge) Destroy() {
	b.stopOnce.Do(func() {
		b.destroyed.Store(true)
		if b.unsubscribeState != nil {
			b.unsubscribeState()
		}

		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.membershipMu.Lock()
		for _, id := range b.controllers.Keys() {
			b.controllers.RemoveAndRun(id, func(c *Controller) { c.Destroy() }, nil)
			b.releaseCommandSubscription(id)
		}
		b.membershipMu.Unlock()

		b.logger.Info("climate bridge destroyed", "climate_entity", b.climateEntityID)
	})
}

// enqueueStateChange is the state stream handler. It runs on the
// transport's delivery goroutine, so it only queues.
func (b *Bridge) enqueueStateChange(event climate.StateChangedEvent) {
	b.enqueue(func() { b.handleStateChanged(b.ctx, event) })
}

// commandHandler queues device commands onto the worker. Calls into the
// climate service publish on the transport, which must not happen on the
// delivery goroutine.
func (b *Bridge) commandHandler(c *Controller) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		data := append([]byte(nil), payload...)
		b.enqueue(func() {
			if err := c.HandleCommand(b.ctx, data); err != nil {
				b.logger.Warn("device command failed",
					"controller_id", c.ID(),
					"topic", topic,
					"error", err)
			}
		})
		return nil
	}
}

func (b *Bridge) enqueue(job func()) {
	if b.destroyed.Load() {
		return
	}
	b.queueMu.Lock()
	b.queue = append(b.queue, job)
	b.queueMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// worker runs queued jobs in order until Destroy.
func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			b.queueMu.Lock()
			if len(b.queue) == 0 {
				b.queueMu.Unlock()
				break
			}
			job := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.queueMu.Unlock()

			if b.destroyed.Load() {
				return
			}
			b.runJob(job)
		}
	}
}

func (b *Bridge) runJob(job func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge job panicked", "climate_entity", b.climateEntityID, "panic", r)
		}
	}()
	job()
}

// handleStateChanged builds a snapshot, fans it out to every controller in
// parallel and records it as the new baseline once all have returned.
func (b *Bridge) handleStateChanged(ctx context.Context, event climate.StateChangedEvent) {
	if event.EntityID != b.climateEntityID || b.destroyed.Load() {
		return
	}

	snap := b.buildSnapshot(event)

	var g errgroup.Group
	for _, c := range b.controllers.Values() {
		c := c
		g.Go(func() error {
			b.dispatch(ctx, c, snap.clone())
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // dispatch never returns an error

	b.lastMu.Lock()
	b.last = &snap
	b.lastMu.Unlock()

	b.metrics.RecordSnapshot(b.climateEntityID)
	for _, observe := range b.observers {
		observe(snap.clone())
	}
}

func (b *Bridge) buildSnapshot(event climate.StateChangedEvent) Snapshot {
	token := event.Context.ParentID
	if token.IsZero() && event.NewState != nil {
		token = event.NewState.Context.ParentID
	}

	previous := event.OldState
	if previous == nil {
		if last := b.Snapshot(); last != nil {
			previous = last.State
		}
	}

	return Snapshot{
		ClimateEntityID:        b.climateEntityID,
		State:                  event.NewState,
		Previous:               previous,
		Token:                  token,
		TriggeringControllerID: b.resolveController(token),
		ReceivedAt:             time.Now(),
	}
}

// resolveController returns the id of the controller that produced token.
func (b *Bridge) resolveController(token causal.Token) string {
	if token.IsZero() {
		return ""
	}
	var id string
	b.controllers.Range(func(k string, c *Controller) bool {
		if c.Matches(token) {
			id = k
			return false
		}
		return true
	})
	return id
}

// dispatch isolates one controller's delivery from its siblings.
func (b *Bridge) dispatch(ctx context.Context, c *Controller, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordDispatch(metrics.DispatchFailed)
			b.logger.Error("controller dispatch panicked", "controller_id", c.ID(), "panic", r)
		}
	}()
	c.StateChanged(ctx, snap)
}
