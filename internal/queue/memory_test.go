package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok, "channel closed")
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return nil
	}
}

func TestMemoryQueue_PublishConsumeAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, []byte(`{"n":1}`)))
	require.NoError(t, q.Publish(ctx, []byte(`{"n":2}`)))

	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	d1 := receive(t, ch)
	assert.JSONEq(t, `{"n":1}`, string(d1.Body()))
	require.NoError(t, d1.Ack(ctx))

	d2 := receive(t, ch)
	assert.JSONEq(t, `{"n":2}`, string(d2.Body()))
	require.NoError(t, d2.Ack(ctx))

	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(0), depth)
	assert.Equal(t, 0, q.Unacked())
}

func TestMemoryQueue_NackRequeues(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, []byte(`"a"`)))
	ch, err := q.Consume(ctx)
	require.NoError(t, err)

	d := receive(t, ch)
	require.NoError(t, d.Nack(ctx, true))

	again := receive(t, ch)
	assert.Equal(t, `"a"`, string(again.Body()))
	require.NoError(t, again.Nack(ctx, false))

	assert.Eventually(t, func() bool { return q.Unacked() == 0 }, time.Second, time.Millisecond)
	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(0), depth)
}

func TestMemoryQueue_ConsumeStopsOnCancel(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestMemoryQueue_PublishAfterClose(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.Publish(context.Background(), []byte("x")), ErrClosed)
}
