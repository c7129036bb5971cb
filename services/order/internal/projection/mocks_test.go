package projection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/appetiteclub/apt/events"
	"github.com/appetiteclub/orderflow/pkg/event"
	"github.com/appetiteclub/orderflow/services/order/internal/order"
	"github.com/appetiteclub/orderflow/services/order/internal/realtime"
	"github.com/google/uuid"
)

type subscription struct {
	topic     string
	predicate realtime.Predicate
	callback  realtime.Callback
	active    bool
}

// MockStream dispatches published changes synchronously to subscribers.
type MockStream struct {
	mu       sync.Mutex
	subs     []*subscription
	state    realtime.State
	err      error
	watchers []chan realtime.State
}

func NewMockStream() *MockStream {
	return &MockStream{state: realtime.StateSubscribed}
}

func (m *MockStream) Subscribe(topic string, predicate realtime.Predicate, callback realtime.Callback) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &subscription{topic: topic, predicate: predicate, callback: callback, active: true}
	m.subs = append(m.subs, sub)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		sub.active = false
	}
}

func (m *MockStream) State() realtime.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockStream) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MockStream) Watch() (<-chan realtime.State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan realtime.State, 8)
	ch <- m.state
	m.watchers = append(m.watchers, ch)
	return ch, func() {}
}

// SetState notifies watchers. Going offline also reaches every subscriber,
// as the realtime manager does.
func (m *MockStream) SetState(state realtime.State) {
	m.mu.Lock()
	m.state = state
	var notices []func()
	if state == realtime.StateOffline {
		m.err = realtime.ErrChannelOffline
		for _, s := range m.subs {
			if s.active {
				cb, evt := s.callback, realtime.Event{Topic: s.topic, State: state}
				notices = append(notices, func() { cb(evt) })
			}
		}
	}
	for _, ch := range m.watchers {
		ch <- state
	}
	m.mu.Unlock()

	for _, notify := range notices {
		notify()
	}
}

func (m *MockStream) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.active {
			n++
		}
	}
	return n
}

// Publish makes the stream usable as the Emitter's publisher.
func (m *MockStream) Publish(ctx context.Context, topic string, msg []byte) error {
	var change event.Change
	if err := json.Unmarshal(msg, &change); err != nil {
		return err
	}
	evt := realtime.Event{Topic: topic, Change: change}

	m.mu.Lock()
	var targets []realtime.Callback
	for _, s := range m.subs {
		if s.active && s.topic == topic && (s.predicate == nil || s.predicate(evt)) {
			targets = append(targets, s.callback)
		}
	}
	m.mu.Unlock()

	for _, cb := range targets {
		cb(evt)
	}
	return nil
}

// MockReplayer returns recorded messages or an error.
type MockReplayer struct {
	Messages []events.StreamMessage
	Err      error
}

func (m *MockReplayer) Fetch(ctx context.Context, limit int) ([]events.StreamMessage, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Messages, nil
}

// Record appends every published message, like a retained stream would.
func (m *MockReplayer) Publish(ctx context.Context, topic string, msg []byte) error {
	m.Messages = append(m.Messages, events.StreamMessage{Data: msg, Sequence: uint64(len(m.Messages) + 1)})
	return nil
}

type MockSnapshot struct {
	Orders []*order.Order
	Err    error
}

func (m *MockSnapshot) List(ctx context.Context) ([]*order.Order, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Orders, nil
}

type MockETA struct {
	Minutes int
	Err     error
	Calls   int
}

func (m *MockETA) ETA(ctx context.Context, id uuid.UUID) (int, error) {
	m.Calls++
	return m.Minutes, m.Err
}

var errReplay = errors.New("stream unavailable")
