package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memorySubscriber owns a dedicated dispatch goroutine fed by an
// unbounded queue, so one slow handler never stalls the publisher or
// other subscribers, and each subscriber sees events in publish order.
type memorySubscriber struct {
	bus     *MemoryBus
	topic   string
	handler Handler

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	stopped bool
}

// MemoryBus is an in-process Bus implementation.
type MemoryBus struct {
	mu     sync.RWMutex
	topics map[string][]*memorySubscriber
	closed bool
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewMemoryBus creates an in-process bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		topics: make(map[string][]*memorySubscriber),
		logger: logger,
	}
}

// Publish enqueues the event for every current subscriber of topic and
// returns immediately.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload any) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload for topic %q: %w", topic, err)
	}

	ev := Event{
		ID:          uuid.New().String(),
		Topic:       topic,
		Data:        data,
		PublishedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.topics[topic] {
		sub.enqueue(ev)
	}
	return nil
}

// Subscribe registers handler for topic and starts its dispatch loop.
func (b *MemoryBus) Subscribe(topic string, handler Handler) (Subscription, error) {
	if topic == "" {
		return nil, ErrInvalidTopic
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required for topic %q", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &memorySubscriber{
		bus:     b,
		topic:   topic,
		handler: handler,
		wake:    make(chan struct{}, 1),
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.wg.Add(1)
	go sub.run()

	return sub, nil
}

// Close stops all subscribers and waits for their dispatch loops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.stop()
		}
	}
	b.topics = make(map[string][]*memorySubscriber)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (s *memorySubscriber) enqueue(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySubscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Unsubscribe removes the subscriber from its topic and ends dispatch.
func (s *memorySubscriber) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	subs := b.topics[s.topic]
	for i, sub := range subs {
		if sub == s {
			b.topics[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	s.stop()
	return nil
}

// run delivers queued events in order until stopped.
func (s *memorySubscriber) run() {
	defer s.bus.wg.Done()
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			if s.stopped {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.dispatch(ev)
	}
}

// dispatch invokes the handler, containing panics and logging failures
// so one bad subscriber never disturbs the rest.
func (s *memorySubscriber) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("event handler panicked",
				zap.String("topic", ev.Topic),
				zap.String("event_id", ev.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.handler(context.Background(), ev); err != nil {
		s.bus.logger.Warn("event handler failed",
			zap.String("topic", ev.Topic),
			zap.String("event_id", ev.ID),
			zap.Error(err),
		)
	}
}

var _ Bus = (*MemoryBus)(nil)
