package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/appetiteclub/orderflow/pkg/event"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	DefaultQueueSize   = 64
)

// ErrChannelOffline means the reconnect budget is spent. Data seen by
// listeners may be stale until Reconnect succeeds.
var ErrChannelOffline = errors.New("realtime channel offline")

// ErrChannelClosed is reported when the transport ends a session without an error.
var ErrChannelClosed = errors.New("realtime channel closed")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateOffline      State = "offline"
)

// Event is one change delivered to listeners. An event with State set
// carries no change; it tells the listener the channel moved to State.
type Event struct {
	Topic  string
	Change event.Change
	State  State
}

type Predicate func(Event) bool

type Callback func(Event)

// Transport opens one multiplexed session over every topic. The session
// reports a channel error, or nil on a clean close, through Done.
type Transport interface {
	Open(ctx context.Context, topics []string, deliver func(topic string, data []byte)) (Session, error)
}

type Session interface {
	Done() <-chan error
	Publish(ctx context.Context, topic string, data []byte) error
	Close() error
}

type Config struct {
	Topics      []string
	MaxAttempts int
	BaseDelay   time.Duration
	// QueueSize bounds each listener's backlog. Events past it are dropped for
	// that listener only.
	QueueSize int
	// PresenceID, when set, announces PresenceData after every subscribe.
	PresenceID   string
	PresenceData interface{}
}

// Manager owns the single realtime session of a process and fans changes
// out to local listeners.
type Manager struct {
	transport Transport
	cfg       Config
	logger    apt.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	state      State
	attempts   int
	lastErr    error
	session    Session
	generation uint64
	timer      *time.Timer
	started    bool
	closed     bool
	listeners  map[uint64]*listener
	watchers   map[uint64]chan State
	nextID     uint64

	presence  *Presence
	afterFunc func(time.Duration, func()) *time.Timer
}

func NewManager(transport Transport, cfg Config, logger apt.Logger) *Manager {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if len(cfg.Topics) == 0 {
		cfg.Topics = pkg.ChangeTopics()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    logger.With("component", "realtime"),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateDisconnected,
		listeners: make(map[uint64]*listener),
		watchers:  make(map[uint64]chan State),
		presence:  NewPresence(),
		afterFunc: time.AfterFunc,
	}
}

// Start opens the session in the background so startup never blocks on the broker.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info("starting realtime channel", "topics", strings.Join(m.cfg.Topics, ","))
	go m.connect()
	return nil
}

// Stop is Disconnect for the service lifecycle.
func (m *Manager) Stop(ctx context.Context) error {
	m.Disconnect()
	return nil
}

// Reconnect leaves the offline state and starts a fresh attempt budget.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed || m.state != StateOffline {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.logger.Info("manual reconnect requested")
	go m.connect()
}

// Disconnect tears down the session and drops every listener. It is safe to
// call more than once.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	session := m.session
	m.session = nil
	listeners := m.listeners
	m.listeners = make(map[uint64]*listener)
	watchers := m.watchers
	m.watchers = make(map[uint64]chan State)
	m.state = StateDisconnected
	m.mu.Unlock()

	m.cancel()

	if session != nil {
		if err := session.Close(); err != nil {
			m.logger.Debug("error closing realtime session", "error", err)
		}
	}
	for _, l := range listeners {
		l.stop()
	}
	for _, ch := range watchers {
		close(ch)
	}

	m.logger.Info("realtime channel disconnected")
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns ErrChannelOffline wrapping the last channel error once offline.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateOffline {
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrChannelOffline, m.attempts, m.lastErr)
}

// Attempts is the number of consecutive channel errors.
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// Watch streams state changes, starting with the current state. The channel
// closes on Disconnect or when cancel is called.
func (m *Manager) Watch() (<-chan State, func()) {
	ch := make(chan State, 16)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.nextID++
	id := m.nextID
	m.watchers[id] = ch
	ch <- m.state
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if w, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(w)
			}
		})
	}
}

// Subscribe registers callback for changes on topic that satisfy predicate.
// A nil predicate matches every change. When the channel goes offline every
// listener also receives an Event with State set to StateOffline, whatever its
// predicate. Watch reports every other state change. The returned function
// unsubscribes and may be called more than once.
func (m *Manager) Subscribe(topic string, predicate Predicate, callback Callback) func() {
	l := newListener(topic, predicate, callback, m.cfg.QueueSize, m.logger)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		l.stop()
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.listeners[id] = l
	total := len(m.listeners)
	m.mu.Unlock()

	m.logger.Debug("listener registered", "topic", topic, "total_listeners", total)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
			l.stop()
		})
	}
}

// Listeners is the number of registered listeners.
func (m *Manager) Listeners() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// UpdatePresence broadcasts local client metadata. It never blocks and never
// fails the event path; only an unencodable payload returns an error.
func (m *Manager) UpdatePresence(clientID string, data interface{}) error {
	payload, err := json.Marshal(PresenceUpdate{
		ClientID: clientID,
		Data:     data,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cannot encode presence: %w", err)
	}

	m.mu.RLock()
	session := m.session
	m.mu.RUnlock()
	if session == nil {
		m.logger.Debug("presence skipped, channel not subscribed", "client_id", clientID)
		return nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
		defer cancel()
		if err := session.Publish(ctx, pkg.PresenceTopicPrefix+clientID, payload); err != nil {
			m.logger.Debug("presence publish failed", "client_id", clientID, "error", err)
		}
	}()
	return nil
}

// Presence returns the presence view built from peer broadcasts.
func (m *Manager) Presence() *Presence {
	return m.presence
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	topics := append(append([]string{}, m.cfg.Topics...), pkg.PresenceTopicPrefix+"*")
	session, err := m.transport.Open(m.ctx, topics, m.deliver)
	if err != nil {
		m.channelError(gen, err)
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		_ = session.Close()
		return
	}
	m.session = session
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(StateSubscribed)
	m.mu.Unlock()

	m.logger.Info("realtime channel subscribed")
	go m.watch(gen, session)

	if m.cfg.PresenceID != "" {
		if err := m.UpdatePresence(m.cfg.PresenceID, m.cfg.PresenceData); err != nil {
			m.logger.Debug("cannot announce presence", "error", err)
		}
	}
}

func (m *Manager) watch(gen uint64, session Session) {
	select {
	case err := <-session.Done():
		if err == nil {
			err = ErrChannelClosed
		}
		m.channelError(gen, err)
	case <-m.ctx.Done():
	}
}

// channelError counts a failure and either schedules the next attempt with
// linear backoff or goes offline.
func (m *Manager) channelError(gen uint64, err error) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.session = nil
	m.attempts++
	m.lastErr = err
	attempts := m.attempts

	if attempts >= m.cfg.MaxAttempts {
		m.setStateLocked(StateOffline)
		for _, l := range m.listeners {
			l.enqueue(Event{Topic: l.topic, State: StateOffline})
		}
		m.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		m.logger.Error("realtime channel offline, reconnect budget exhausted", "attempts", attempts, "error", err)
		return
	}

	delay := time.Duration(attempts) * m.cfg.BaseDelay
	m.setStateLocked(StateDisconnected)
	m.timer = m.afterFunc(delay, m.connect)
	m.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	m.logger.Info("realtime channel error, reconnect scheduled", "attempt", attempts, "retry_in", delay.String(), "error", err)
}

func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.state = state
	for _, ch := range m.watchers {
		select {
		case ch <- state:
		default:
		}
	}
}

// deliver runs on the transport's read path. It must not block.
func (m *Manager) deliver(topic string, data []byte) {
	if strings.HasPrefix(topic, pkg.PresenceTopicPrefix) {
		if err := m.presence.ingest(data); err != nil {
			m.logger.Debug("dropping malformed presence", "error", err)
		}
		return
	}

	var change event.Change
	if err := json.Unmarshal(data, &change); err != nil {
		m.logger.Info("dropping malformed change", "topic", topic, "error", err)
		return
	}
	if change.Topic == "" {
		change.Topic = topic
	}
	evt := Event{Topic: topic, Change: change}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listeners {
		if l.matches(evt) {
			l.enqueue(evt)
		}
	}
}

// listener decouples a callback from the read path with a bounded queue.
type listener struct {
	topic     string
	predicate Predicate
	callback  Callback
	logger    apt.Logger

	queue   chan Event
	quit    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func newListener(topic string, predicate Predicate, callback Callback, size int, logger apt.Logger) *listener {
	l := &listener{
		topic:     topic,
		predicate: predicate,
		callback:  callback,
		logger:    logger,
		queue:     make(chan Event, size),
		quit:      make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *listener) matches(evt Event) bool {
	if l.topic != evt.Topic {
		return false
	}
	return l.predicate == nil || l.predicate(evt)
}

func (l *listener) enqueue(evt Event) {
	select {
	case <-l.quit:
	case l.queue <- evt:
	default:
		n := l.dropped.Add(1)
		l.logger.Info("listener queue full, dropping event", "topic", l.topic, "change_id", evt.Change.ID, "dropped", n)
	}
}

func (l *listener) run() {
	for {
		select {
		case <-l.quit:
			return
		case evt := <-l.queue:
			l.invoke(evt)
		}
	}
}

func (l *listener) invoke(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("listener panicked", "topic", l.topic, "panic", fmt.Sprint(r))
		}
	}()
	l.callback(evt)
}

func (l *listener) stop() {
	l.once.Do(func() {
		close(l.quit)
	})
}
