package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/climate"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/mqtt"
)

// Transport is the MQTT surface the platform needs. *mqtt.Mux satisfies it.
type Transport interface {
	Subscribe(topic string, handler mqtt.MessageHandler) (func(), error)
	Publish(topic string, payload []byte) error
}

// Logger defines the logging interface used by MQTTPlatform.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures MQTTPlatform.
type Options struct {
	Transport Transport
	Topics    mqtt.Topics
	Logger    Logger
}

// MQTTPlatform implements climate.Platform over MQTT.
//
// State handlers run on the transport's delivery goroutine and must not
// block.
type MQTTPlatform struct {
	transport Transport
	topics    mqtt.Topics
	logger    Logger
	now       func() time.Time

	statesMu sync.RWMutex
	states   map[string]*climate.State

	handlersMu sync.RWMutex
	handlers   map[string]map[uint64]climate.StateChangeHandler
	nextID     uint64

	startMu     sync.Mutex
	unsubscribe func()
}

var _ climate.Platform = (*MQTTPlatform)(nil)

// New creates an MQTTPlatform. Call Start to begin receiving states.
func New(opts Options) *MQTTPlatform {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &MQTTPlatform{
		transport: opts.Transport,
		topics:    opts.Topics,
		logger:    logger,
		now:       time.Now,
		states:    make(map[string]*climate.State),
		handlers:  make(map[string]map[uint64]climate.StateChangeHandler),
	}
}

// Start subscribes to every entity state topic. Retained states arrive
// immediately and seed the state cache. Calling Start twice is a no-op.
func (p *MQTTPlatform) Start() error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.unsubscribe != nil {
		return nil
	}
	unsub, err := p.transport.Subscribe(p.topics.AllEntityStates(), p.handleStateMessage)
	if err != nil {
		return fmt.Errorf("subscribing to entity states: %w", err)
	}
	p.unsubscribe = unsub
	p.logger.Info("platform state stream started", "topic", p.topics.AllEntityStates())
	return nil
}

// Stop removes the state subscription.
func (p *MQTTPlatform) Stop() {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// GetState returns a copy of the latest known state of entityID.
func (p *MQTTPlatform) GetState(entityID string) (*climate.State, bool) {
	p.statesMu.RLock()
	defer p.statesMu.RUnlock()

	s, ok := p.states[entityID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// EntityIDs returns the ids of every entity with a known state.
func (p *MQTTPlatform) EntityIDs() []string {
	p.statesMu.RLock()
	defer p.statesMu.RUnlock()

	ids := make([]string, 0, len(p.states))
	for id := range p.states {
		ids = append(ids, id)
	}
	return ids
}

// SubscribeStateChanges registers handler for changes of entityID.
func (p *MQTTPlatform) SubscribeStateChanges(entityID string, handler climate.StateChangeHandler) (func(), error) {
	if entityID == "" {
		return nil, ErrInvalidEntity
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	p.handlersMu.Lock()
	p.nextID++
	id := p.nextID
	if p.handlers[entityID] == nil {
		p.handlers[entityID] = make(map[uint64]climate.StateChangeHandler)
	}
	p.handlers[entityID][id] = handler
	p.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.handlersMu.Lock()
			defer p.handlersMu.Unlock()
			delete(p.handlers[entityID], id)
			if len(p.handlers[entityID]) == 0 {
				delete(p.handlers, entityID)
			}
		})
	}, nil
}

// CallService publishes call on the target entity's service topic.
func (p *MQTTPlatform) CallService(ctx context.Context, call climate.ServiceCall) error {
	if call.EntityID == "" {
		return ErrInvalidEntity
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("marshalling service call: %w", err)
	}
	if err := p.transport.Publish(p.topics.EntityService(call.EntityID), payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	p.logger.Debug("service call sent",
		"entity_id", call.EntityID,
		"service", call.Domain+"."+call.Service,
		"parent_id", string(call.Context.ParentID),
	)
	return nil
}

// handleStateMessage updates the cache and notifies subscribers. An empty
// payload clears the entity's retained state and is reported as a removal.
func (p *MQTTPlatform) handleStateMessage(topic string, payload []byte) error {
	entityID, ok := p.topics.ParseEntityStateTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %s", ErrInvalidState, topic)
	}

	var next *climate.State
	if len(payload) > 0 {
		var s climate.State
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidState, entityID, err)
		}
		if s.EntityID == "" {
			s.EntityID = entityID
		}
		if s.EntityID != entityID {
			return fmt.Errorf("%w: entity_id %s on topic of %s", ErrInvalidState, s.EntityID, entityID)
		}
		if s.LastUpdated.IsZero() {
			s.LastUpdated = p.now().UTC()
		}
		if s.LastChanged.IsZero() {
			s.LastChanged = s.LastUpdated
		}
		next = &s
	}

	p.statesMu.Lock()
	prev := p.states[entityID]
	if next == nil {
		delete(p.states, entityID)
	} else {
		p.states[entityID] = next
	}
	p.statesMu.Unlock()

	if prev == nil && next == nil {
		return nil
	}

	event := climate.StateChangedEvent{
		EntityID: entityID,
		OldState: prev.Clone(),
		NewState: next.Clone(),
	}
	if next != nil {
		event.Context = next.Context
	}

	for _, h := range p.handlersFor(entityID) {
		h(event)
	}
	return nil
}

func (p *MQTTPlatform) handlersFor(entityID string) []climate.StateChangeHandler {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()

	hs := p.handlers[entityID]
	out := make([]climate.StateChangeHandler, 0, len(hs))
	for _, h := range hs {
		out = append(out, h)
	}
	return out
}
