// Package influxdb records bridge telemetry in InfluxDB v2.
//
// Every snapshot forwarded to a controller, every controller command and every
// discovery announcement can be written as a point, giving a history of what
// each controller displayed and requested:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteCommand("TC-HID-ABCDEF1234567890", "climate.living_room", "turn_on", true)
//
// Write methods are no-ops on a nil client, so callers need no guard.
// Writes are batched per the batch_size and flush_interval settings.
package influxdb
