// Package hid bridges HID climate controllers to platform climate entities.
//
// The package has three layers:
//
//   - Controller: one physical controller. It publishes climate snapshots to
//     hid/<unique_id>/state and turns commands received on
//     hid/<unique_id>/command into climate service calls.
//   - Bridge: one climate entity. It owns every Controller linked to that
//     entity, subscribes once to the entity's state changes and fans each
//     change out to all of its controllers in parallel.
//   - Coordinator: the process-wide owner of all bridges and of the entries
//     still waiting for their controller's discovery announcement.
//
// # Causal attribution
//
// Every command a controller sends is tagged with causal.Encode(controllerID)
// as the context parent id. The platform echoes that id into the resulting
// state change, so the bridge can tell which controller caused it and stamp
// the snapshot with TriggeringControllerID. Every controller still receives
// every snapshot. By default a controller does not publish a snapshot it
// triggered itself (see ControllerOptions.SuppressEcho).
//
// # Deferred registration
//
// An entry created before its controller was seen is registered in two
// steps. The coordinator subscribes to hid/<unique_id>/config and waits;
// the first valid announcement carrying the same unique id rewrites the
// entry with the announced device metadata, persists it and completes the
// registration. Each entry's progress is tracked by a small state machine
// (awaiting_discovery, registered, unloaded).
//
// # Threading
//
// Transport handlers never block. State changes and device commands for one
// bridge are queued to that bridge's worker goroutine, which keeps them in
// arrival order.
package hid
