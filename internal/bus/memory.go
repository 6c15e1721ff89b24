package bus

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

const memoryQueueSize = 1024

// MemoryBus is an in-process Bus for single instance deployments and tests.
type MemoryBus struct {
	mu     sync.Mutex
	topics map[string]chan Message
	timers map[*time.Timer]struct{}
	done   chan struct{}
	closed bool
	log    logr.Logger
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus(log logr.Logger) *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]chan Message),
		timers: make(map[*time.Timer]struct{}),
		done:   make(chan struct{}),
		log:    log.WithName("memory-bus"),
	}
}

func (b *MemoryBus) queue(topic string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	q, ok := b.topics[topic]
	if !ok {
		q = make(chan Message, memoryQueueSize)
		b.topics[topic] = q
	}
	return q, nil
}

// Publish implements Publisher. It blocks while the topic queue is full.
func (b *MemoryBus) Publish(ctx context.Context, topic, key string, value []byte) error {
	q, err := b.queue(topic)
	if err != nil {
		return err
	}
	msg := Message{Topic: topic, Key: key, Value: append([]byte(nil), value...)}
	select {
	case q <- msg:
		return nil
	case <-b.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishAfter implements Publisher.
func (b *MemoryBus) PublishAfter(ctx context.Context, topic, key string, value []byte, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, topic, key, value)
	}
	if _, err := b.queue(topic); err != nil {
		return err
	}
	payload := append([]byte(nil), value...)

	b.mu.Lock()
	defer b.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, timer)
		b.mu.Unlock()
		if err := b.Publish(context.Background(), topic, key, payload); err != nil {
			b.log.Error(err, "Dropped delayed message", "topic", topic, "key", key)
		}
	})
	b.timers[timer] = struct{}{}
	return nil
}

// Consume implements Consumer.
func (b *MemoryBus) Consume(ctx context.Context, topic string, handler Handler) error {
	q, err := b.queue(topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case msg := <-q:
			if err := handler(ctx, msg); err != nil {
				b.log.Error(err, "Message handler failed", "topic", topic, "key", msg.Key)
			}
		}
	}
}

// Close stops pending delayed publications and releases consumers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	close(b.done)
	return nil
}
