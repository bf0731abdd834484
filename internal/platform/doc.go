// Package platform connects the bridge to the home-automation platform over MQTT.
//
// The platform publishes each climate entity's state as a retained JSON
// message and accepts service calls on a per-entity service topic:
//
//	homeassistant/entity/<entity_id>/state    climate.State JSON (retained)
//	homeassistant/entity/<entity_id>/service  climate.ServiceCall JSON
//
// MQTTPlatform keeps the latest state of every entity it has seen, turns
// successive state messages into climate.StateChangedEvent values and
// implements climate.Platform for the rest of the bridge.
//
// The platform must copy context.parent_id from a service call into the
// state message that call produces. Without that echo, changes caused by a
// controller cannot be attributed back to it.
package platform
