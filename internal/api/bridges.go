package api

import (
	"net/http"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
)

// bridgeView is a bridge with its last climate snapshot.
type bridgeView struct {
	hid.BridgeInfo
	State *hid.DeviceState `json:"state,omitempty"`
}

// handleListBridges returns the active bridges and the pending count.
func (s *Server) handleListBridges(w http.ResponseWriter, _ *http.Request) {
	if s.topology == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"bridges": []bridgeView{},
			"pending": 0,
		})
		return
	}

	infos := s.topology.Bridges()
	views := make([]bridgeView, 0, len(infos))
	for _, info := range infos {
		v := bridgeView{BridgeInfo: info}
		if info.Snapshot != nil {
			state := hid.NewDeviceState(*info.Snapshot)
			v.State = &state
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bridges": views,
		"pending": s.topology.PendingCount(),
	})
}

// handleListDiscovered returns the controllers announced since startup.
func (s *Server) handleListDiscovered(w http.ResponseWriter, _ *http.Request) {
	devices := s.flow.DiscoveredDevices()
	if devices == nil {
		devices = []hid.DiscoveryPayload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleListDevices returns the device registry.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := []device.Device{}
	if s.devices != nil {
		devices = s.devices.ListDevices()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}
