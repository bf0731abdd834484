// Package throttle drops repeated operations that arrive within a cooldown
// window.
//
// It is not a queue: a dropped call is lost, not deferred.
package throttle

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCooldown is the window used when New is given a non-positive value.
const DefaultCooldown = 250 * time.Millisecond

// cleanupFactor scales the cooldown into the expired-key sweep interval.
const cleanupFactor = 20

// Throttle suppresses calls whose key ran within the cooldown.
//
// Thread Safety: safe for concurrent use.
type Throttle struct {
	cooldown time.Duration
	seen     *gocache.Cache
}

// New creates a throttle with the given cooldown.
func New(cooldown time.Duration) *Throttle {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Throttle{
		cooldown: cooldown,
		seen:     gocache.New(cooldown, cooldown*cleanupFactor),
	}
}

// Cooldown returns the configured window.
func (t *Throttle) Cooldown() time.Duration {
	return t.cooldown
}

// Call runs fn unless key was run within the cooldown. It reports whether fn
// ran. The key is recorded before fn runs, so a concurrent call with the same
// key is dropped even while fn is still executing.
func (t *Throttle) Call(key string, fn func()) bool {
	// Add fails if an unexpired item exists, which makes it the atomic
	// check-and-record step.
	if err := t.seen.Add(key, time.Now(), t.cooldown); err != nil {
		return false
	}
	fn()
	return true
}

// Reset forgets key so the next call runs immediately.
func (t *Throttle) Reset(key string) {
	t.seen.Delete(key)
}

// Key joins an operation name and its subject ids into a throttle key.
//
//	throttle.Key("state_changed", "TC-HID-ABCDEF1234567890")
//	// "state_changed:TC-HID-ABCDEF1234567890"
func Key(op string, subjects ...string) string {
	if len(subjects) == 0 {
		return op
	}
	return op + ":" + strings.Join(subjects, ":")
}
