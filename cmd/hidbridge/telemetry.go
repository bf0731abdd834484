package main

import (
	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/influxdb"
)

// snapshotWriter is the subset of *influxdb.Client used by snapshotRecorder.
type snapshotWriter interface {
	WriteClimateSnapshot(s influxdb.ClimateSnapshot)
}

// snapshotRecorder returns an observer writing one point per controller
// that received the snapshot. controllers lists the controllers of a climate
// entity's bridge.
func snapshotRecorder(w snapshotWriter, controllers func(climateEntityID string) []string) hid.SnapshotObserver {
	return func(snap hid.Snapshot) {
		if snap.State == nil || snap.State.State == hid.StateUnavailable {
			return
		}
		ds := hid.NewDeviceState(snap)
		for _, id := range controllers(snap.ClimateEntityID) {
			w.WriteClimateSnapshot(influxdb.ClimateSnapshot{
				ControllerID:       id,
				EntityID:           snap.ClimateEntityID,
				HVACMode:           snap.State.State,
				CurrentTemperature: ds.CurrentTemperature,
				TargetTemperature:  ds.TargetTemperature,
				CurrentHumidity:    ds.CurrentHumidity,
				Time:               snap.ReceivedAt,
			})
		}
	}
}
