package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	gocache "github.com/patrickmn/go-cache"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
)

// DiscoveryStep handles one announcement on topic.
//
// A valid announcement is cached under its unique id even when the
// controller is already linked, so further entries for the same device can
// resolve without waiting. An empty payload clears the cached device.
func (m *Manager) DiscoveryStep(ctx context.Context, topic string, payload []byte) (*hid.DiscoveryPayload, error) {
	uid, suffix, ok := m.opts.Topics.ParseDeviceTopic(topic)
	if !ok || suffix != m.opts.Topics.ConfigSuffix {
		return nil, abort(AbortInvalidDiscoveryPayload, fmt.Errorf("unexpected topic %q", topic))
	}

	if len(payload) == 0 {
		m.discovered.Delete(uid)
		m.logger.Debug("discovery cleared", "controller_id", uid)
		return nil, abort(AbortInvalidDiscoveryPayload, errors.New("empty payload"))
	}

	p, err := hid.ParseDiscoveryPayload(payload)
	switch {
	case errors.Is(err, hid.ErrMalformedPayload):
		return nil, abort(AbortInvalidDiscoveryPayload, err)
	case errors.Is(err, hid.ErrInvalidDiscovery):
		return nil, abort(AbortDeviceValidationFailure, err)
	case err != nil:
		return nil, abort(AbortUnknownFailure, err)
	}

	if p.UniqueID != uid {
		return nil, abort(AbortDeviceValidationFailure,
			fmt.Errorf("unique_id %q does not match topic id %q", p.UniqueID, uid))
	}

	m.discovered.Set(uid, p, gocache.DefaultExpiration)

	existing, err := m.opts.Entries.ListByController(ctx, uid)
	if err != nil {
		return nil, abort(AbortUnknownFailure, err)
	}
	if len(existing) > 0 {
		return p, abort(AbortAlreadyConfigured, nil)
	}

	m.logger.Info("controller discovered", "controller_id", uid, "name", p.Name)
	if m.opts.OnDiscovered != nil {
		m.opts.OnDiscovered(p)
	}
	return p, nil
}

// Discovered returns the cached announcement of a controller. It
// implements hid.DiscoveryCache.
func (m *Manager) Discovered(uniqueID string) (*hid.DiscoveryPayload, bool) {
	v, ok := m.discovered.Get(uniqueID)
	if !ok {
		return nil, false
	}
	p, ok := v.(*hid.DiscoveryPayload)
	return p, ok
}

// DiscoveredDevices lists the cached announcements ordered by unique id.
func (m *Manager) DiscoveredDevices() []hid.DiscoveryPayload {
	items := m.discovered.Items()
	out := make([]hid.DiscoveryPayload, 0, len(items))
	for _, item := range items {
		if p, ok := item.Object.(*hid.DiscoveryPayload); ok {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out
}

