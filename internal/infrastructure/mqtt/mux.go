package mqtt

import (
	"fmt"
	"sync"
)

// Broker is the subset of Client used by Mux.
type Broker interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Mux lets several handlers share one broker subscription per topic filter.
//
// The first handler registered for a filter subscribes on the broker; the
// last one to unsubscribe removes the broker subscription. Handlers for the
// same filter are called in registration order.
type Mux struct {
	broker Broker
	qos    byte
	logger Logger

	// opMu serialises broker subscribe/unsubscribe calls. routesMu guards the
	// handler table and is the only lock taken on the delivery path.
	opMu     sync.Mutex
	routesMu sync.RWMutex
	routes   map[string]*route
	nextID   uint64
}

type route struct {
	ids      []uint64
	handlers map[uint64]MessageHandler
}

// NewMux wraps broker. qos applies to every subscription and publish.
// logger may be nil.
func NewMux(broker Broker, qos byte, logger Logger) *Mux {
	return &Mux{
		broker: broker,
		qos:    qos,
		logger: logger,
		routes: make(map[string]*route),
	}
}

// Subscribe adds handler for topic. The returned function removes it and is
// safe to call more than once.
func (m *Mux) Subscribe(topic string, handler MessageHandler) (func(), error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNilHandler)
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.routesMu.Lock()
	m.nextID++
	id := m.nextID
	r, exists := m.routes[topic]
	if !exists {
		r = &route{handlers: make(map[uint64]MessageHandler)}
		m.routes[topic] = r
	}
	r.ids = append(r.ids, id)
	r.handlers[id] = handler
	m.routesMu.Unlock()

	if !exists {
		if err := m.broker.Subscribe(topic, m.qos, m.dispatcher(topic)); err != nil {
			m.routesMu.Lock()
			delete(m.routes, topic)
			m.routesMu.Unlock()
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(topic, id) })
	}, nil
}

func (m *Mux) remove(topic string, id uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.routesMu.Lock()
	r, ok := m.routes[topic]
	if !ok {
		m.routesMu.Unlock()
		return
	}
	delete(r.handlers, id)
	for i, existing := range r.ids {
		if existing == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}
	last := len(r.handlers) == 0
	if last {
		delete(m.routes, topic)
	}
	m.routesMu.Unlock()

	if last {
		if err := m.broker.Unsubscribe(topic); err != nil && m.logger != nil {
			m.logger.Warn("MQTT unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// dispatcher fans a delivered message out to the handlers of filter.
func (m *Mux) dispatcher(filter string) MessageHandler {
	return func(topic string, payload []byte) error {
		for _, h := range m.handlersFor(filter) {
			invokeHandler(m.logger, h, topic, payload)
		}
		return nil
	}
}

func (m *Mux) handlersFor(filter string) []MessageHandler {
	m.routesMu.RLock()
	defer m.routesMu.RUnlock()

	r, ok := m.routes[filter]
	if !ok {
		return nil
	}
	out := make([]MessageHandler, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.handlers[id])
	}
	return out
}

// Publish sends a non-retained message.
func (m *Mux) Publish(topic string, payload []byte) error {
	return m.broker.Publish(topic, payload, m.qos, false)
}

// PublishRetained sends a retained message.
func (m *Mux) PublishRetained(topic string, payload []byte) error {
	return m.broker.Publish(topic, payload, m.qos, true)
}

// Routes returns the number of topic filters with at least one handler.
func (m *Mux) Routes() int {
	m.routesMu.RLock()
	defer m.routesMu.RUnlock()
	return len(m.routes)
}
