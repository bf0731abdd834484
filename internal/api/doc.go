// Package api implements the HTTP REST API and WebSocket server of the HID
// climate bridge.
//
// This package provides:
//   - REST endpoints for listing, creating and removing config entries
//   - Read-only views of discovered controllers, active bridges and devices
//   - WebSocket hub broadcasting snapshots, entry updates and discoveries
//   - Prometheus exposition on /metrics
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API sits beside the MQTT side of the bridge. Creating an entry runs
// the same user step a config flow UI would, then hands the entry to the
// coordinator. Climate snapshots fanned out by bridges are mirrored to
// WebSocket clients subscribed to "climate.snapshot".
//
// # Graceful Degradation
//
// The server operates without MQTT. Reads and WebSocket connections work;
// the health endpoint reports the broker as disconnected.
package api
