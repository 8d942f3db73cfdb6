// Package analytics moves view and click tracking off the request path: the
// Tracker enqueues, the Batcher drains the queue into the ledger.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"adslot/internal/ledger"
	"adslot/internal/logger"
	"adslot/internal/metrics"
	"adslot/internal/queue"

	"github.com/google/uuid"
)

const publishTimeout = 500 * time.Millisecond

type Tracker struct {
	queue queue.Queue
	now   func() time.Time
}

func NewTracker(q queue.Queue) *Tracker {
	return &Tracker{queue: q, now: time.Now}
}

func (t *Tracker) RecordView(ctx context.Context, bookingID string, actorID *string) {
	t.Record(ctx, ledger.KindView, bookingID, actorID)
}

func (t *Tracker) RecordClick(ctx context.Context, bookingID string, actorID *string) {
	t.Record(ctx, ledger.KindClick, bookingID, actorID)
}

// Record enqueues one tracking event. Failures are logged and counted, never
// returned: tracking is best effort.
func (t *Tracker) Record(ctx context.Context, kind ledger.Kind, bookingID string, actorID *string) {
	ev := ledger.TrackEvent{
		MessageID:  uuid.NewString(),
		Kind:       kind,
		BookingID:  bookingID,
		ActorID:    actorID,
		OccurredAt: t.now().UTC(),
	}

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Error("tracking event encode failed", "booking_id", bookingID, "error", err)
		metrics.RecordTrackingEvent(string(kind), "failed")
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := t.queue.Publish(pubCtx, body); err != nil {
		logger.Error("tracking event enqueue failed",
			"booking_id", bookingID,
			"kind", kind,
			"message_id", ev.MessageID,
			"error", err,
		)
		metrics.RecordTrackingEvent(string(kind), "failed")
		return
	}
	metrics.RecordTrackingEvent(string(kind), "queued")
}
