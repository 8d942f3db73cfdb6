package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultPrefetch = 500

// RabbitQueue publishes persistent messages to a topic exchange and consumes
// them from a durable queue bound to it with manual acks.
type RabbitQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	queue      string
	routingKey string
	prefetch   int
}

func NewRabbitQueue(url, exchange, queue string, prefetch int) (*RabbitQueue, error) {
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	routingKey := queue + ".event"
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("bind %s: %w", routingKey, err)
	}
	// the batcher holds up to one batch unacked
	if err := ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	return &RabbitQueue{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		queue:      q.Name,
		routingKey: routingKey,
		prefetch:   prefetch,
	}, nil
}

func (q *RabbitQueue) Publish(ctx context.Context, body []byte) error {
	return q.ch.PublishWithContext(ctx, q.exchange, q.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	msgs, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- rabbitDelivery{d: m}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *RabbitQueue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

type rabbitDelivery struct {
	d amqp.Delivery
}

func (r rabbitDelivery) Body() []byte {
	return r.d.Body
}

func (r rabbitDelivery) Ack(context.Context) error {
	return r.d.Ack(false)
}

func (r rabbitDelivery) Nack(_ context.Context, requeue bool) error {
	return r.d.Nack(false, requeue)
}
