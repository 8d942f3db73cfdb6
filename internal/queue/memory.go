package queue

import (
	"context"
	"sync"
)

// MemoryQueue is an unbounded in-process queue with the same ack semantics as
// the brokers. Nothing survives a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   [][]byte
	unacked int
	closed  bool
}

func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) Publish(_ context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	msg := make([]byte, len(body))
	copy(msg, body)
	q.items = append(q.items, msg)
	q.cond.Signal()
	return nil
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	// wake the waiter when ctx ends
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})

	go func() {
		defer close(out)
		defer stop()
		for {
			body, ok := q.next(ctx)
			if !ok {
				return
			}
			select {
			case out <- &memoryDelivery{q: q, body: body}:
			case <-ctx.Done():
				q.requeue(body)
				return
			}
		}
	}()
	return out, nil
}

func (q *MemoryQueue) next(ctx context.Context) ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed || ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, false
	}
	body := q.items[0]
	q.items = q.items[1:]
	q.unacked++
	return body, true
}

func (q *MemoryQueue) requeue(body []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.unacked--
	q.items = append([][]byte{body}, q.items...)
	q.cond.Signal()
}

func (q *MemoryQueue) Depth(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}

// Unacked reports deliveries handed out but not yet settled.
func (q *MemoryQueue) Unacked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unacked
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
	return nil
}

type memoryDelivery struct {
	q    *MemoryQueue
	body []byte
	once sync.Once
}

func (d *memoryDelivery) Body() []byte {
	return d.body
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.q.mu.Lock()
		d.q.unacked--
		d.q.mu.Unlock()
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, requeue bool) error {
	d.once.Do(func() {
		if requeue {
			d.q.requeue(d.body)
			return
		}
		d.q.mu.Lock()
		d.q.unacked--
		d.q.mu.Unlock()
	})
	return nil
}
