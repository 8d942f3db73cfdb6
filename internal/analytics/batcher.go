package analytics

import (
	"context"
	"encoding/json"
	"time"

	"adslot/internal/ledger"
	"adslot/internal/logger"
	"adslot/internal/metrics"
	"adslot/internal/queue"

	"go.uber.org/zap"
)

const (
	DefaultBatchSize   = 500
	DefaultBatchWindow = 5 * time.Second
	flushTimeout       = 30 * time.Second
)

// Sink persists a batch atomically. ledger.Service satisfies it.
type Sink interface {
	Apply(ctx context.Context, events []ledger.TrackEvent) (ledger.ApplyResult, error)
}

// Batcher buffers queued tracking events and flushes them when the buffer
// reaches size or when window has passed since the first buffered event.
type Batcher struct {
	queue  queue.Queue
	sink   Sink
	size   int
	window time.Duration
	log    *zap.SugaredLogger

	events     []ledger.TrackEvent
	deliveries []queue.Delivery
}

func NewBatcher(q queue.Queue, sink Sink, size int, window time.Duration) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if window <= 0 {
		window = DefaultBatchWindow
	}
	return &Batcher{
		queue:  q,
		sink:   sink,
		size:   size,
		window: window,
		log:    logger.Named("analytics.batcher"),
	}
}

// Run consumes until ctx is cancelled. Whatever is buffered at shutdown is
// flushed once more before returning.
func (b *Batcher) Run(ctx context.Context) error {
	in, err := b.queue.Consume(ctx)
	if err != nil {
		return err
	}
	b.log.Infow("batcher started", "size", b.size, "window", b.window)

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	defer stopTimer()

	for {
		select {
		case d, ok := <-in:
			if !ok {
				stopTimer()
				b.flush(ctx, "shutdown")
				b.log.Info("batcher stopped")
				return nil
			}

			var ev ledger.TrackEvent
			if err := json.Unmarshal(d.Body(), &ev); err != nil || ev.MessageID == "" {
				b.log.Warnw("dropping undecodable tracking message", "error", err)
				_ = d.Nack(ctx, false)
				continue
			}

			b.events = append(b.events, ev)
			b.deliveries = append(b.deliveries, d)
			if len(b.events) == 1 {
				timer = time.NewTimer(b.window)
				timerC = timer.C
			}
			if len(b.events) >= b.size {
				stopTimer()
				b.flush(ctx, "size")
			}

		case <-timerC:
			timer, timerC = nil, nil
			b.flush(ctx, "timer")
		}
	}
}

// flush applies the buffer in one transaction. Deliveries are acked only after
// commit; on failure they are requeued for another attempt.
func (b *Batcher) flush(ctx context.Context, trigger string) {
	if len(b.events) == 0 {
		return
	}
	events, deliveries := b.events, b.deliveries
	b.events, b.deliveries = nil, nil

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()

	res, err := b.sink.Apply(flushCtx, events)
	if err != nil {
		b.log.Errorw("flush failed, requeueing", "trigger", trigger, "events", len(events), "error", err)
		metrics.RecordFlush(trigger, "error", len(events))
		for _, d := range deliveries {
			if nerr := d.Nack(flushCtx, true); nerr != nil {
				b.log.Errorw("nack failed", "error", nerr)
			}
		}
		return
	}

	for _, d := range deliveries {
		if aerr := d.Ack(flushCtx); aerr != nil {
			// the receipt table makes a redelivery harmless
			b.log.Warnw("ack failed", "error", aerr)
		}
	}
	metrics.RecordFlush(trigger, "ok", len(events))
	b.log.Debugw("flushed tracking batch",
		"trigger", trigger,
		"applied", res.Applied,
		"duplicates", res.Duplicates,
		"skipped", res.Skipped,
	)
}

// ReportDepth publishes the queue backlog as a gauge until ctx ends.
func ReportDepth(ctx context.Context, q queue.Queue, name string, every time.Duration) {
	d, ok := q.(queue.Depther)
	if !ok {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := d.Depth(ctx); err == nil {
				metrics.SetQueueDepth(name, depth)
			}
		}
	}
}
