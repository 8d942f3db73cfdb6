// Package queue is the durable at-least-once channel between request handlers
// and background consumers.
package queue

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("queue closed")

// Delivery is one message handed to a consumer. Exactly one of Ack or Nack
// must be called.
type Delivery interface {
	Body() []byte
	Ack(ctx context.Context) error
	Nack(ctx context.Context, requeue bool) error
}

type Queue interface {
	Publish(ctx context.Context, body []byte) error
	// Consume streams deliveries until ctx is cancelled, then closes the channel.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Depther is implemented by queues that can report their backlog.
type Depther interface {
	Depth(ctx context.Context) (int64, error)
}
