package hid

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

// Registration states.
const (
	StateAwaitingDiscovery = "awaiting_discovery"
	StateRegistered        = "registered"
	StateUnloaded          = "unloaded"
)

// Registration events.
const (
	EventDiscovered = "discovered"
	EventRegister   = "register"
	EventUnload     = "unload"
)

// registration tracks the lifecycle of one entry.
//
//	awaiting_discovery --discovered--> registered
//	awaiting_discovery --register----> registered
//	registered         --register----> registered
//	*                  --unload------> unloaded
type registration struct {
	key string
	fsm *fsm.FSM
}

func newRegistration(key string, deferred bool, logger Logger) *registration {
	initial := StateRegistered
	if deferred {
		initial = StateAwaitingDiscovery
	}

	return &registration{
		key: key,
		fsm: fsm.NewFSM(
			initial,
			fsm.Events{
				{Name: EventDiscovered, Src: []string{StateAwaitingDiscovery}, Dst: StateRegistered},
				{Name: EventRegister, Src: []string{StateAwaitingDiscovery, StateRegistered}, Dst: StateRegistered},
				{Name: EventUnload, Src: []string{StateAwaitingDiscovery, StateRegistered}, Dst: StateUnloaded},
			},
			fsm.Callbacks{
				"enter_state": func(_ context.Context, e *fsm.Event) {
					logger.Debug("registration state changed", "entry", key, "from", e.Src, "to", e.Dst, "event", e.Event)
				},
			},
		),
	}
}

// fire applies event. Self-transitions are not errors.
func (r *registration) fire(ctx context.Context, event string) error {
	err := r.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("registration %s: %s from %s: %w", r.key, event, r.fsm.Current(), err)
}

func (r *registration) state() string {
	return r.fsm.Current()
}

func (r *registration) awaitingDiscovery() bool {
	return r.fsm.Is(StateAwaitingDiscovery)
}
