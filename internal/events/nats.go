package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus is a Bus backed by a NATS connection. NATS delivers messages
// to each subscription in publish order, which satisfies the
// per-subscriber FIFO contract.
type NATSBus struct {
	conn      *nats.Conn
	logger    *zap.Logger
	ownedConn bool
}

// NATSConfig configures the NATS-backed bus.
type NATSConfig struct {
	// URL is the NATS server address. Default: nats.DefaultURL.
	URL string

	// MaxReconnects bounds reconnection attempts. Default: 5.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	// Default: 1s.
	ReconnectWait time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *NATSConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = time.Second
	}
}

// NewNATSBus connects to NATS and returns a bus that owns the
// connection.
func NewNATSBus(cfg NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	conn, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.URL, err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL))

	return &NATSBus{conn: conn, logger: logger, ownedConn: true}, nil
}

// NewNATSBusWithConn wraps an existing connection. The caller keeps
// ownership of the connection's lifecycle.
func NewNATSBusWithConn(conn *nats.Conn, logger *zap.Logger) *NATSBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBus{conn: conn, logger: logger}
}

// Publish sends the event to topic. Delivery to subscribers is
// asynchronous; Publish returns once the message is handed to the
// connection.
func (b *NATSBus) Publish(_ context.Context, topic string, payload any) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if b.conn.IsClosed() {
		return ErrBusClosed
	}

	ev := Event{
		ID:          uuid.New().String(),
		Topic:       topic,
		PublishedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for topic %q: %w", topic, err)
	}
	ev.Data = data

	wire, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event for topic %q: %w", topic, err)
	}

	if err := b.conn.Publish(topic, wire); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler for topic.
func (b *NATSBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required for topic %q", topic)
	}
	if b.conn.IsClosed() {
		return nil, ErrBusClosed
	}

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("dropping malformed event",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return
		}
		b.dispatch(ev, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %q: %w", topic, err)
	}

	return &natsSubscription{sub: sub}, nil
}

// dispatch contains handler panics and logs handler errors.
func (b *NATSBus) dispatch(ev Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", ev.Topic),
				zap.String("event_id", ev.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(context.Background(), ev); err != nil {
		b.logger.Warn("event handler failed",
			zap.String("topic", ev.Topic),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

// Close drains the connection if the bus owns it.
func (b *NATSBus) Close() error {
	if !b.ownedConn {
		return nil
	}
	b.conn.Close()
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

var _ Bus = (*NATSBus)(nil)
