package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/flow"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/config"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/database"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/hid-climate-bridge/internal/metrics"
)

const (
	testUID     = "TC-HID-ABCDEF1234567890"
	testClimate = "climate.living_room"
)

// mockLifecycle records setups and unloads.
type mockLifecycle struct {
	mu       sync.Mutex
	setups   int
	unloads  int
	setupErr error
}

func (m *mockLifecycle) SetupEntry(context.Context, *entry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setups++
	return m.setupErr
}

func (m *mockLifecycle) UnloadEntry(context.Context, *entry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloads++
	return nil
}

type mockStates map[string]*climate.State

func (m mockStates) GetState(id string) (*climate.State, bool) {
	s, ok := m[id]
	return s, ok
}

// fakeTopology reports a fixed set of bridges.
type fakeTopology struct {
	bridges []hid.BridgeInfo
	pending int
}

func (f *fakeTopology) Bridges() []hid.BridgeInfo { return f.bridges }
func (f *fakeTopology) PendingCount() int         { return f.pending }

func (f *fakeTopology) RegistrationState(e *entry.Entry) string {
	if e.Data.Controller.DeferredRegistration {
		return hid.StateAwaitingDiscovery
	}
	return hid.StateRegistered
}

type fakeConn struct{ connected bool }

func (f fakeConn) IsConnected() bool { return f.connected }

type fixture struct {
	srv       *Server
	manager   *flow.Manager
	entries   *entry.SQLiteRepository
	lifecycle *mockLifecycle
	topology  *fakeTopology
	handler   http.Handler
}

func newFixture(t *testing.T, conn ConnectionChecker) *fixture {
	t.Helper()

	db, err := database.Open(context.Background(), config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	f := &fixture{
		entries:   entry.NewSQLiteRepository(db.DB),
		lifecycle: &mockLifecycle{},
		topology:  &fakeTopology{},
	}
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	f.manager = flow.New(flow.Options{
		Entries:   f.entries,
		Devices:   registry,
		Lifecycle: f.lifecycle,
		States: mockStates{
			testClimate: {EntityID: testClimate, State: "heat", Attributes: map[string]any{climate.AttrFriendlyName: "Living Room"}},
		},
		Topics: mqtt.DefaultTopics(),
	})
	t.Cleanup(f.manager.Stop)

	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics.New() error = %v", err)
	}
	m.SetConnected(true)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	f.srv, err = New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   log,
		Flow:     f.manager,
		Entries:  f.entries,
		Topology: f.topology,
		Devices:  registry,
		MQTT:     conn,
		DB:       db,
		Metrics:  m.Handler(),
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func createBody(uid, climateID string) string {
	return `{"controller_entity_id":"` + uid + `","climate_entity_id":"` + climateID + `"}`
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error"}, "test")
	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{}},
		{"no flow", Deps{Logger: log}},
		{"no entries", Deps{Logger: log, Flow: flow.New(flow.Options{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		conn       ConnectionChecker
		wantStatus string
		wantMQTT   bool
	}{
		{"connected", fakeConn{connected: true}, healthOK, true},
		{"disconnected", fakeConn{connected: false}, healthDegraded, false},
		{"no broker", nil, healthDegraded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.conn)
			f.topology.pending = 2

			rec := f.do(t, http.MethodGet, "/api/v1/health", "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := decode[map[string]any](t, rec)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			if body["mqtt_connected"] != tt.wantMQTT {
				t.Errorf("mqtt_connected = %v, want %v", body["mqtt_connected"], tt.wantMQTT)
			}
			if body["pending"] != float64(2) {
				t.Errorf("pending = %v, want 2", body["pending"])
			}
		})
	}
}

func TestCreateEntry(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})

	rec := f.do(t, http.MethodPost, "/api/v1/entries", createBody(testUID, testClimate))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Entry struct {
			ID    string     `json:"id"`
			Data  entry.Data `json:"data"`
			State string     `json:"state"`
		} `json:"entry"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Entry.ID == "" {
		t.Error("entry id should be set")
	}
	if body.Entry.Data.Controller.EntityID != testUID || !body.Entry.Data.Controller.DeferredRegistration {
		t.Errorf("controller = %+v", body.Entry.Data.Controller)
	}
	if body.Entry.State != hid.StateAwaitingDiscovery {
		t.Errorf("state = %q, want %q", body.Entry.State, hid.StateAwaitingDiscovery)
	}
	if body.Description != "Linked to Living Room" {
		t.Errorf("description = %q", body.Description)
	}
	if f.lifecycle.setups != 1 {
		t.Errorf("setups = %d, want 1", f.lifecycle.setups)
	}
}

func TestCreateEntry_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setupErr   error
		existing   bool
		wantStatus int
		wantCode   string
		wantReason string
		wantField  string
	}{
		{
			name:       "invalid json",
			body:       `{"controller_entity_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeBadRequest,
		},
		{
			name:       "invalid unique id",
			body:       createBody("not-a-controller", testClimate),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
			wantField:  flow.FieldControllerID,
		},
		{
			name:       "unknown climate entity",
			body:       createBody(testUID, "climate.attic"),
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrCodeValidation,
			wantField:  flow.FieldClimateEntityID,
		},
		{
			name:       "already configured",
			body:       createBody(testUID, testClimate),
			existing:   true,
			wantStatus: http.StatusConflict,
			wantCode:   ErrCodeConflict,
			wantReason: flow.AbortAlreadyConfigured,
		},
		{
			name:       "setup failure",
			body:       createBody(testUID, testClimate),
			setupErr:   errors.New("boom"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   ErrCodeAborted,
			wantReason: flow.AbortUnknownFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fakeConn{connected: true})
			if tt.existing {
				if rec := f.do(t, http.MethodPost, "/api/v1/entries", createBody(testUID, testClimate)); rec.Code != http.StatusCreated {
					t.Fatalf("first create status = %d", rec.Code)
				}
			}
			f.lifecycle.setupErr = tt.setupErr

			rec := f.do(t, http.MethodPost, "/api/v1/entries", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			got := decode[Error](t, rec)
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if tt.wantField != "" {
				if _, ok := got.Fields[tt.wantField]; !ok {
					t.Errorf("fields = %v, want %s", got.Fields, tt.wantField)
				}
			}
		})
	}
}

func TestEntries_GetListDelete(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})

	rec := f.do(t, http.MethodPost, "/api/v1/entries", createBody(testUID, testClimate))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	created := decode[struct {
		Entry struct {
			ID string `json:"id"`
		} `json:"entry"`
	}](t, rec)
	id := created.Entry.ID

	list := decode[struct {
		Entries []entryView `json:"entries"`
		Count   int         `json:"count"`
	}](t, f.do(t, http.MethodGet, "/api/v1/entries", ""))
	if list.Count != 1 || len(list.Entries) != 1 || list.Entries[0].ID != id {
		t.Fatalf("list = %+v", list)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/entries/"+id, ""); rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	if rec := f.do(t, http.MethodDelete, "/api/v1/entries/"+id, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if f.lifecycle.unloads != 1 {
		t.Errorf("unloads = %d, want 1", f.lifecycle.unloads)
	}

	if rec := f.do(t, http.MethodGet, "/api/v1/entries/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/v1/entries/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestListDiscovered(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})

	empty := decode[map[string]any](t, f.do(t, http.MethodGet, "/api/v1/discovered", ""))
	if empty["count"] != float64(0) {
		t.Errorf("count = %v, want 0", empty["count"])
	}

	topic := mqtt.DefaultTopics().DeviceConfig(testUID)
	payload := []byte(`{"unique_id":"TC-HID-ABCDEF1234567890","name":"Hall","device":{"model":"X1"}}`)
	if _, err := f.manager.DiscoveryStep(context.Background(), topic, payload); err != nil {
		t.Fatalf("DiscoveryStep() error = %v", err)
	}

	got := decode[struct {
		Devices []hid.DiscoveryPayload `json:"devices"`
		Count   int                    `json:"count"`
	}](t, f.do(t, http.MethodGet, "/api/v1/discovered", ""))
	if got.Count != 1 || got.Devices[0].UniqueID != testUID || got.Devices[0].Name != "Hall" {
		t.Errorf("discovered = %+v", got)
	}
}

func TestListBridges(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})
	f.topology.bridges = []hid.BridgeInfo{
		{
			ClimateEntityID: testClimate,
			FriendlyName:    "Living Room",
			Controllers:     []string{testUID},
			Snapshot: &hid.Snapshot{
				ClimateEntityID: testClimate,
				State:           &climate.State{EntityID: testClimate, State: "cool"},
				ReceivedAt:      time.Now(),
			},
		},
		{ClimateEntityID: "climate.office", Controllers: []string{}},
	}
	f.topology.pending = 1

	got := decode[struct {
		Bridges []struct {
			ClimateEntityID string           `json:"climate_entity_id"`
			Controllers     []string         `json:"controllers"`
			State           *hid.DeviceState `json:"state"`
		} `json:"bridges"`
		Pending int `json:"pending"`
	}](t, f.do(t, http.MethodGet, "/api/v1/bridges", ""))

	if len(got.Bridges) != 2 || got.Pending != 1 {
		t.Fatalf("bridges = %+v", got)
	}
	first := got.Bridges[0]
	if first.State == nil || first.State.HVACMode != "cool" || !first.State.Available {
		t.Errorf("state = %+v", first.State)
	}
	if got.Bridges[1].State != nil {
		t.Errorf("bridge without snapshot should omit state, got %+v", got.Bridges[1].State)
	}
}

func TestSystemAndMetrics(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})
	f.topology.bridges = []hid.BridgeInfo{
		{ClimateEntityID: testClimate, Controllers: []string{testUID, "TC-HID-1234567890ABCDEF"}},
	}

	sys := decode[SystemMetrics](t, f.do(t, http.MethodGet, "/api/v1/system", ""))
	if !sys.MQTT.Connected || sys.Bridges.Active != 1 || sys.Bridges.Controllers != 2 {
		t.Errorf("system = %+v", sys)
	}
	if sys.Database == nil {
		t.Error("database stats should be reported")
	}

	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hidbridge_mqtt_connected 1") {
		t.Errorf("metrics body missing connected gauge:\n%s", rec.Body.String())
	}
}

func TestMiddleware(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})

	t.Run("request id generated", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/health", "")
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("X-Request-ID should be set")
		}
	})

	t.Run("request id echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", "abc123")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
			t.Errorf("X-Request-ID = %q, want abc123", got)
		}
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/entries", nil)
		req.Header.Set("Origin", "http://admin.local")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://admin.local" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})
}

func TestWebSocket_SnapshotBroadcast(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if resp.Body != nil {
		resp.Body.Close()
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelSnapshot}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	f.srv.Hub().SnapshotObserver()(hid.Snapshot{
		ClimateEntityID:        testClimate,
		State:                  &climate.State{EntityID: testClimate, State: "heat"},
		TriggeringControllerID: testUID,
		ReceivedAt:             time.Now(),
	})

	var event struct {
		Type      string          `json:"type"`
		EventType string          `json:"event_type"`
		Payload   hid.DeviceState `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event.Type != WSTypeEvent || event.EventType != ChannelSnapshot {
		t.Errorf("event = %+v", event)
	}
	if event.Payload.ClimateEntityID != testClimate || event.Payload.TriggeredBy != testUID || event.Payload.HVACMode != "heat" {
		t.Errorf("payload = %+v", event.Payload)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	f := newFixture(t, fakeConn{connected: true})
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if resp.Body != nil {
		resp.Body.Close()
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // Test deadline

	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"not json", `{`, WSTypeError},
		{"unknown type", `{"type":"dance","id":"2"}`, WSTypeError},
		{"empty subscribe", `{"type":"subscribe","id":"3","payload":{"channels":[]}}`, WSTypeError},
		{"ping", `{"type":"ping","id":"4"}`, WSTypePong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.msg)); err != nil {
				t.Fatal(err)
			}
			var got WSMessage
			if err := conn.ReadJSON(&got); err != nil {
				t.Fatal(err)
			}
			if got.Type != tt.want {
				t.Errorf("type = %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestHub_BroadcastWithoutClients(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.New(config.LoggingConfig{Level: "error"}, "test"))
	hub.Broadcast(ChannelEntryUpdated, map[string]string{"id": "x"})
	hub.BroadcastDiscovered(nil)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}
