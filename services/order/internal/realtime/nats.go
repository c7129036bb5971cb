package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/orderflow/pkg"
	"github.com/nats-io/nats.go"
)

// NATSTransport opens sessions on core NATS. Client side reconnects are
// disabled so every connection loss surfaces as a channel error and the
// Manager owns the backoff policy.
type NATSTransport struct {
	url     string
	name    string
	timeout time.Duration
	logger  apt.Logger
}

func NewNATSTransport(url, name string, logger apt.Logger) *NATSTransport {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &NATSTransport{
		url:     url,
		name:    name,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

func (t *NATSTransport) Open(ctx context.Context, topics []string, deliver func(topic string, data []byte)) (Session, error) {
	s := &natsSession{done: make(chan error, 1)}

	sub, err := pkg.NewNATSSubscriber(t.url, t.logger,
		nats.Name(t.name),
		nats.NoReconnect(),
		nats.Timeout(t.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.New("nats disconnected")
			}
			s.fail(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.fail(nil)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			if errors.Is(err, nats.ErrSlowConsumer) {
				t.logger.Debug("nats slow consumer", "error", err)
				return
			}
			s.fail(err)
		}),
	)
	if err != nil {
		return nil, err
	}
	s.sub = sub

	for _, topic := range topics {
		topic := topic
		err := sub.Subscribe(ctx, topic, func(_ context.Context, data []byte) error {
			deliver(topic, data)
			return nil
		})
		if err != nil {
			s.closeQuiet()
			return nil, fmt.Errorf("cannot open realtime session: %w", err)
		}
	}
	return s, nil
}

type natsSession struct {
	sub *pkg.NATSSubscriber

	done     chan error
	failOnce sync.Once
	closing  sync.Once
	closed   bool
	mu       sync.Mutex
}

func (s *natsSession) Done() <-chan error {
	return s.done
}

func (s *natsSession) Publish(ctx context.Context, topic string, data []byte) error {
	return s.sub.Publish(ctx, topic, data)
}

func (s *natsSession) Close() error {
	s.closeQuiet()
	return nil
}

// closeQuiet closes without reporting a channel error.
func (s *natsSession) closeQuiet() {
	s.closing.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.sub != nil {
			_ = s.sub.Close()
		}
	})
}

func (s *natsSession) fail(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.failOnce.Do(func() {
		s.done <- err
	})
}
