// Package entry holds config entries: the persisted link between one HID
// controller and one climate entity.
//
// An entry is created by the config flow, loaded at startup and handed to
// the HID bridge coordinator. Deferred entries are rewritten in place once
// the controller announces itself over MQTT discovery.
//
// Entries are stored in SQLite with the link itself in a JSON column:
//
//	{"controller": {"entity_id": "...", "device": {...}, "deferred_registration": true},
//	 "climate":    {"entity_id": "climate.living_room", "friendly_name": "Living Room"}}
package entry
