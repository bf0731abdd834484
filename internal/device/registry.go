package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
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

// Registry provides device management with caching and thread safety.
//
// The cache is populated on startup via RefreshCache() and kept in sync by
// UpsertDevice and DeleteDevice. Returned devices are copies.
type Registry struct {
	repo Repository

	// writeMu serialises read-modify-write upserts.
	writeMu sync.Mutex

	cache   map[key]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[key]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[key]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[keyOf(d.Domain, d.ID)] = d.Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// UpsertDevice creates the device described by seed or refreshes the
// metadata of an existing one.
func (r *Registry) UpsertDevice(ctx context.Context, seed Seed) (*Device, error) {
	if seed.Domain == "" || seed.ID == "" {
		return nil, fmt.Errorf("%w: domain and id are required", ErrInvalidDevice)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, err := r.GetDevice(ctx, seed.Domain, seed.ID)
	created := errors.Is(err, ErrDeviceNotFound)
	switch {
	case created:
		current = &Device{}
	case err != nil:
		return nil, err
	}

	seed.apply(current)
	if err := r.repo.Upsert(ctx, current); err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[keyOf(current.Domain, current.ID)] = current.Clone()
	r.cacheMu.Unlock()

	if created {
		r.logger.Info("device registered", "domain", current.Domain, "id", current.ID, "model", current.Model)
	} else {
		r.logger.Debug("device updated", "domain", current.Domain, "id", current.ID)
	}
	return current.Clone(), nil
}

// GetDevice retrieves a device, falling back to the repository on a cache miss.
func (r *Registry) GetDevice(ctx context.Context, domain, id string) (*Device, error) {
	k := keyOf(domain, id)

	r.cacheMu.RLock()
	cached, ok := r.cache[k]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	d, err := r.repo.Get(ctx, domain, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[k] = d.Clone()
	r.cacheMu.Unlock()
	return d, nil
}

// ListDevices returns all cached devices ordered by name.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d.Clone())
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// DeleteDevice removes a device from the repository and the cache.
func (r *Registry) DeleteDevice(ctx context.Context, domain, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.repo.Delete(ctx, domain, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, keyOf(domain, id))
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "domain", domain, "id", id)
	return nil
}

// GetDeviceCount returns the number of cached devices.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
