package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"adslot/internal/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxTries = 5
	popTimeout      = 2 * time.Second
	errorBackoff    = time.Second
)

type envelope struct {
	Body    json.RawMessage `json:"body"`
	Tries   int             `json:"tries"`
	Created time.Time       `json:"created"`
}

// RedisQueue is a list-backed queue. Messages in flight are parked on a
// processing list so a crashed consumer does not lose them; Recover puts them
// back. After maxTries failed attempts a message moves to the failed list.
type RedisQueue struct {
	rdb        *redis.Client
	name       string
	processing string
	failed     string
	maxTries   int
}

func NewRedisQueue(rdb *redis.Client, name string, maxTries int) *RedisQueue {
	if maxTries <= 0 {
		maxTries = defaultMaxTries
	}
	return &RedisQueue{
		rdb:        rdb,
		name:       name,
		processing: name + ":processing",
		failed:     name + ":failed",
		maxTries:   maxTries,
	}
}

func (q *RedisQueue) Publish(ctx context.Context, body []byte) error {
	data, err := json.Marshal(envelope{Body: body, Created: time.Now()})
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.name, string(data)).Err(); err != nil {
		return fmt.Errorf("queue %s: %w", q.name, err)
	}
	return nil
}

// Recover moves every message left on the processing list back to the queue.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.rdb.LMove(ctx, q.processing, q.name, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}

			raw, err := q.rdb.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", popTimeout).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("queue pop failed", "queue", q.name, "error", err)
				time.Sleep(errorBackoff)
				continue
			}

			var env envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				logger.Error("dropping malformed queue message", "queue", q.name, "error", err)
				q.park(context.Background(), raw, err)
				continue
			}

			select {
			case out <- &redisDelivery{q: q, raw: raw, env: env}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.name).Result()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

// park moves raw off the processing list and onto the failed list.
func (q *RedisQueue) park(ctx context.Context, raw string, cause error) {
	failed := map[string]interface{}{
		"message": raw,
		"error":   cause.Error(),
		"time":    time.Now(),
	}
	data, _ := json.Marshal(failed)

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processing, 1, raw)
	pipe.LPush(ctx, q.failed, string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("failed to park queue message", "queue", q.name, "error", err)
	}
}

type redisDelivery struct {
	q   *RedisQueue
	raw string
	env envelope
}

func (d *redisDelivery) Body() []byte {
	return d.env.Body
}

func (d *redisDelivery) Ack(ctx context.Context) error {
	return d.q.rdb.LRem(ctx, d.q.processing, 1, d.raw).Err()
}

func (d *redisDelivery) Nack(ctx context.Context, requeue bool) error {
	d.env.Tries++
	if !requeue || d.env.Tries >= d.q.maxTries {
		logger.Error("queue message failed permanently", "queue", d.q.name, "tries", d.env.Tries)
		d.q.park(ctx, d.raw, fmt.Errorf("gave up after %d tries", d.env.Tries))
		return nil
	}

	data, err := json.Marshal(d.env)
	if err != nil {
		return err
	}
	pipe := d.q.rdb.TxPipeline()
	pipe.LRem(ctx, d.q.processing, 1, d.raw)
	pipe.LPush(ctx, d.q.name, string(data))
	_, err = pipe.Exec(ctx)
	return err
}
