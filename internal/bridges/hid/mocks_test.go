package hid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu        sync.Mutex
	nextID    int
	handlers  map[string]map[int]mqtt.MessageHandler
	published []publishedMessage

	subscribeErr map[string]error
	publishErr   map[string]error
	panicOn      map[string]bool
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers:     make(map[string]map[int]mqtt.MessageHandler),
		subscribeErr: make(map[string]error),
		publishErr:   make(map[string]error),
		panicOn:      make(map[string]bool),
	}
}

func (m *MockTransport) Subscribe(topic string, handler mqtt.MessageHandler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.subscribeErr[topic]; err != nil {
		return nil, err
	}
	m.nextID++
	id := m.nextID
	if m.handlers[topic] == nil {
		m.handlers[topic] = make(map[int]mqtt.MessageHandler)
	}
	m.handlers[topic][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.handlers[topic], id)
			if len(m.handlers[topic]) == 0 {
				delete(m.handlers, topic)
			}
		})
	}, nil
}

func (m *MockTransport) Publish(topic string, payload []byte) error {
	m.mu.Lock()
	if m.panicOn[topic] {
		m.mu.Unlock()
		panic("publish exploded")
	}
	if err := m.publishErr[topic]; err != nil {
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, publishedMessage{topic: topic, payload: append([]byte(nil), payload...)})
	m.mu.Unlock()
	return nil
}

// SimulateMessage delivers payload to every handler of topic.
func (m *MockTransport) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handlers := make([]mqtt.MessageHandler, 0, len(m.handlers[topic]))
	for _, h := range m.handlers[topic] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		//nolint:errcheck // handlers log their own failures
		h(topic, payload)
	}
}

func (m *MockTransport) HandlerCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[topic])
}

func (m *MockTransport) PublishedTo(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

// MockStream implements StateStream for testing.
type MockStream struct {
	mu       sync.Mutex
	nextID   int
	handlers map[string]map[int]climate.StateChangeHandler
	err      error
}

func NewMockStream() *MockStream {
	return &MockStream{handlers: make(map[string]map[int]climate.StateChangeHandler)}
}

func (m *MockStream) SubscribeStateChanges(entityID string, handler climate.StateChangeHandler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.nextID++
	id := m.nextID
	if m.handlers[entityID] == nil {
		m.handlers[entityID] = make(map[int]climate.StateChangeHandler)
	}
	m.handlers[entityID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.handlers[entityID], id)
			if len(m.handlers[entityID]) == 0 {
				delete(m.handlers, entityID)
			}
		})
	}, nil
}

// EmitStateChange delivers event to the subscribers of its entity.
func (m *MockStream) EmitStateChange(event climate.StateChangedEvent) {
	m.mu.Lock()
	handlers := make([]climate.StateChangeHandler, 0, len(m.handlers[event.EntityID]))
	for _, h := range m.handlers[event.EntityID] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

func (m *MockStream) SubscriberCount(entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[entityID])
}

// commandCall records one call made through mockCommands.
type commandCall struct {
	service    string
	target     string
	triggering string
	value      any
}

// mockCommands implements Commands for testing.
type mockCommands struct {
	mu     sync.Mutex
	states map[string]*climate.State
	calls  []commandCall
	failOn map[string]error
}

func newMockCommands() *mockCommands {
	return &mockCommands{
		states: make(map[string]*climate.State),
		failOn: make(map[string]error),
	}
}

func (m *mockCommands) setState(s *climate.State) {
	m.mu.Lock()
	m.states[s.EntityID] = s
	m.mu.Unlock()
}

func (m *mockCommands) GetState(entityID string) (*climate.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[entityID]
	return s.Clone(), ok
}

func (m *mockCommands) record(service, target, triggering string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, commandCall{service: service, target: target, triggering: triggering, value: value})
	return m.failOn[service]
}

func (m *mockCommands) getCalls() []commandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]commandCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockCommands) TurnOn(_ context.Context, target, trig string) error {
	return m.record(climate.ServiceTurnOn, target, trig, nil)
}

func (m *mockCommands) TurnOff(_ context.Context, target, trig string) error {
	return m.record(climate.ServiceTurnOff, target, trig, nil)
}

func (m *mockCommands) SetTemperature(_ context.Context, target string, req climate.TemperatureRequest, trig string) error {
	return m.record(climate.ServiceSetTemperature, target, trig, req)
}

func (m *mockCommands) SetSwingMode(_ context.Context, target, mode, trig string) error {
	return m.record(climate.ServiceSetSwingMode, target, trig, mode)
}

func (m *mockCommands) SetPresetMode(_ context.Context, target, mode, trig string) error {
	return m.record(climate.ServiceSetPresetMode, target, trig, mode)
}

func (m *mockCommands) SetHVACMode(_ context.Context, target, mode, trig string) error {
	return m.record(climate.ServiceSetHVACMode, target, trig, mode)
}

func (m *mockCommands) SetHumidity(_ context.Context, target string, humidity int, trig string) error {
	return m.record(climate.ServiceSetHumidity, target, trig, humidity)
}

func (m *mockCommands) SetFanMode(_ context.Context, target, mode, trig string) error {
	return m.record(climate.ServiceSetFanMode, target, trig, mode)
}

func (m *mockCommands) SetAuxHeat(_ context.Context, target string, on bool, trig string) error {
	return m.record(climate.ServiceSetAuxHeat, target, trig, on)
}

// mockEntryStore implements EntryStore for testing.
type mockEntryStore struct {
	mu      sync.Mutex
	updates []*entry.Entry
	err     error

	// beforeUpdate runs at the start of every Update. Set it before use.
	beforeUpdate func()
}

func (m *mockEntryStore) Update(_ context.Context, e *entry.Entry) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.updates = append(m.updates, e.Clone())
	return nil
}

func (m *mockEntryStore) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockEntryStore) getUpdates() []*entry.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry.Entry, len(m.updates))
	copy(out, m.updates)
	return out
}

// mockDeviceRegistry implements DeviceRegistry for testing.
type mockDeviceRegistry struct {
	mu    sync.Mutex
	seeds []device.Seed
	err   error
}

func (m *mockDeviceRegistry) UpsertDevice(_ context.Context, seed device.Seed) (*device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.seeds = append(m.seeds, seed)
	return &device.Device{Domain: seed.Domain, ID: seed.ID, Name: seed.Name}, nil
}

func (m *mockDeviceRegistry) getSeeds() []device.Seed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.Seed, len(m.seeds))
	copy(out, m.seeds)
	return out
}

// mockDiscoveryCache implements DiscoveryCache for testing.
type mockDiscoveryCache map[string]*DiscoveryPayload

func (m mockDiscoveryCache) Discovered(uid string) (*DiscoveryPayload, bool) {
	p, ok := m[uid]
	return p, ok
}

// mockTelemetry implements Telemetry for testing.
type mockTelemetry struct {
	mu        sync.Mutex
	commands  []string
	discovery []bool
}

func (m *mockTelemetry) WriteCommand(_, _, command string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.commands = append(m.commands, command)
	} else {
		m.commands = append(m.commands, command+":failed")
	}
}

func (m *mockTelemetry) WriteDiscovery(_, _ string, valid bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discovery = append(m.discovery, valid)
}

var errBoom = errors.New("boom")

const (
	testClimate   = "climate.living_room"
	testClimate2  = "climate.bedroom"
	testUniqueID  = "TC-HID-ABCDEF1234567890"
	testUniqueID2 = "TC-HID-1234567890ABCDEF"
)

func climateState(entityID, mode string, parent causal.Token) *climate.State {
	return &climate.State{
		EntityID: entityID,
		State:    mode,
		Attributes: map[string]any{
			climate.AttrCurrentTemperature: 20.5,
			climate.AttrTemperature:        21.0,
			climate.AttrFanMode:            "auto",
		},
		Context: climate.Context{ID: "ctx", ParentID: parent},
	}
}

func newEntry(id, uid, climateID string, deferred bool) *entry.Entry {
	return &entry.Entry{
		ID:    id,
		Title: uid,
		Data: entry.Data{
			Controller: entry.ControllerConfig{
				EntityID:             uid,
				DeferredRegistration: deferred,
			},
			Climate: entry.ClimateLinkConfig{EntityID: climateID},
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// flush waits until every job queued on b so far has run.
func flush(t *testing.T, b *Bridge) {
	t.Helper()
	done := make(chan struct{})
	b.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge worker did not drain")
	}
}
