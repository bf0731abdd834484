package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
)

// DefaultDiscoveryTTL is how long an unlinked announcement is remembered.
const DefaultDiscoveryTTL = 24 * time.Hour

// Lifecycle sets up and unloads entries. *hid.Coordinator satisfies it.
type Lifecycle interface {
	SetupEntry(ctx context.Context, e *entry.Entry) error
	UnloadEntry(ctx context.Context, e *entry.Entry) error
}

// DeviceStore removes device records. *device.Registry satisfies it.
type DeviceStore interface {
	DeleteDevice(ctx context.Context, domain, id string) error
}

// StateReader looks up climate entities. climate.Platform satisfies it.
type StateReader interface {
	GetState(entityID string) (*climate.State, bool)
}

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

// Options holds configuration for creating a Manager.
type Options struct {
	Entries   entry.Repository
	Devices   DeviceStore
	Lifecycle Lifecycle
	States    StateReader

	// Transport carries the global discovery subscription.
	Transport hid.Transport
	Topics    mqtt.Topics

	// DiscoveryTTL defaults to DefaultDiscoveryTTL.
	DiscoveryTTL time.Duration

	// OnDiscovered is called for every accepted announcement. Optional.
	OnDiscovered func(*hid.DiscoveryPayload)

	Logger Logger
}

// Manager runs the config flow steps.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	opts       Options
	logger     Logger
	discovered *gocache.Cache

	mu          sync.Mutex
	unsubscribe func()

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Manager. Call Start to subscribe to discovery.
func New(opts Options) *Manager {
	if opts.DiscoveryTTL <= 0 {
		opts.DiscoveryTTL = DefaultDiscoveryTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:       opts,
		logger:     logger,
		discovered: gocache.New(opts.DiscoveryTTL, opts.DiscoveryTTL/2),
		ctx:        ctx,
		ctxCancel:  cancel,
	}
}

// Start subscribes to every discovery announcement. Repeated calls are
// no-ops.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unsubscribe != nil {
		return nil
	}
	if m.opts.Transport == nil {
		return ErrNotStarted
	}

	topic := m.opts.Topics.AllDeviceConfigs()
	unsub, err := m.opts.Transport.Subscribe(topic, m.handleDiscoveryMessage)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	m.unsubscribe = unsub
	m.logger.Info("listening for controller discovery", "topic", topic)
	return nil
}

// Stop releases the discovery subscription and waits for in-flight steps.
func (m *Manager) Stop() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.ctxCancel()
	m.wg.Wait()
}

// handleDiscoveryMessage runs the discovery step off the delivery goroutine.
func (m *Manager) handleDiscoveryMessage(topic string, payload []byte) error {
	if m.ctx.Err() != nil {
		return nil
	}
	data := append([]byte(nil), payload...)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		_, err := m.DiscoveryStep(m.ctx, topic, data)
		if reason, ok := AbortReason(err); ok {
			level := m.logger.Warn
			if reason == AbortAlreadyConfigured {
				level = m.logger.Debug
			}
			level("discovery step aborted", "topic", topic, "reason", reason, "error", err)
		}
	}()
	return nil
}

// LoadAll sets up every persisted entry and returns how many succeeded.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	entries, err := m.opts.Entries.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing entries: %w", err)
	}

	loaded := 0
	for i := range entries {
		e := &entries[i]
		if err := m.opts.Lifecycle.SetupEntry(ctx, e); err != nil {
			m.logger.Error("entry setup failed", "entry_id", e.ID, "controller_id", e.ControllerID(), "error", err)
			continue
		}
		loaded++
	}
	m.logger.Info("entries loaded", "count", loaded, "total", len(entries))
	return loaded, nil
}

// UnloadAll unloads every persisted entry.
func (m *Manager) UnloadAll(ctx context.Context) error {
	entries, err := m.opts.Entries.List(ctx)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var errs []error
	for i := range entries {
		if err := m.opts.Lifecycle.UnloadEntry(ctx, &entries[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RemoveEntry unloads and deletes an entry. The controller's device record
// is deleted once no other entry references it.
func (m *Manager) RemoveEntry(ctx context.Context, id string) error {
	e, err := m.opts.Entries.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := m.opts.Lifecycle.UnloadEntry(ctx, e); err != nil {
		m.logger.Warn("unloading entry failed", "entry_id", id, "error", err)
	}
	if err := m.opts.Entries.Delete(ctx, id); err != nil {
		return err
	}

	remaining, err := m.opts.Entries.ListByController(ctx, e.ControllerID())
	if err != nil {
		return fmt.Errorf("checking remaining entries: %w", err)
	}
	if len(remaining) == 0 && m.opts.Devices != nil {
		err := m.opts.Devices.DeleteDevice(ctx, device.DomainHIDClimate, e.ControllerID())
		if err != nil && !errors.Is(err, device.ErrDeviceNotFound) {
			return fmt.Errorf("deleting device %s: %w", e.ControllerID(), err)
		}
	}

	m.logger.Info("entry removed", "entry_id", id, "controller_id", e.ControllerID())
	return nil
}
