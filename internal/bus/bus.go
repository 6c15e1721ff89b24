// Package bus carries polling requests and async responses between the
// execution entry point and the reconciliation loop.
package bus

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// Message is one keyed payload on a topic.
type Message struct {
	Topic string `json:"topic"`
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// Handler processes one delivered message. Returned errors are logged by
// the consumer; the message is not redelivered.
type Handler func(ctx context.Context, msg Message) error

// Publisher sends messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	// PublishAfter makes the message visible to consumers once delay has
	// elapsed.
	PublishAfter(ctx context.Context, topic, key string, value []byte, delay time.Duration) error
}

// Consumer delivers messages of a topic to a handler, one at a time, until
// ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
}

// Bus is both ends of a message transport.
type Bus interface {
	Publisher
	Consumer
	Close() error
}
