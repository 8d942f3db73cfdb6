package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"adslot/internal/db"
	"adslot/internal/logger"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

type repository struct {
	ids *snowflake.Node
}

func NewRepository(ids *snowflake.Node) Repository {
	return &repository{ids: ids}
}

func (r *repository) ApplyBatch(ctx context.Context, q db.Querier, events []TrackEvent) (ApplyResult, error) {
	result := ApplyResult{Deltas: map[string]Counts{}}
	if len(events) == 0 {
		return result, nil
	}

	fresh, err := r.claimReceipts(ctx, q, events)
	if err != nil {
		return result, err
	}
	known, err := r.existingBookings(ctx, q, events)
	if err != nil {
		return result, err
	}

	ordered := make([]TrackEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OccurredAt.Before(ordered[j].OccurredAt)
	})

	for _, ev := range ordered {
		if !fresh[ev.MessageID] {
			result.Duplicates++
			continue
		}
		// a message id counts once even if it repeats inside the batch
		delete(fresh, ev.MessageID)

		if !ev.Kind.Valid() {
			logger.Warn("skipping tracking event", "message_id", ev.MessageID, "error", ErrUnknownKind)
			result.Skipped++
			continue
		}
		if !known[ev.BookingID] {
			logger.Warn("skipping tracking event for missing booking", "booking_id", ev.BookingID, "message_id", ev.MessageID)
			result.Skipped++
			continue
		}

		var delta Counts
		switch ev.Kind {
		case KindView:
			delta, err = r.recordView(ctx, q, ev)
		case KindClick:
			delta, err = r.recordClick(ctx, q, ev)
		}
		if err != nil {
			return result, err
		}

		d := result.Deltas[ev.BookingID]
		d.add(delta)
		result.Deltas[ev.BookingID] = d
		result.Applied++
	}

	if err := r.mergeRollups(ctx, q, result.Deltas); err != nil {
		return result, err
	}
	return result, nil
}

// claimReceipts records every message id and returns those seen for the first time.
func (r *repository) claimReceipts(ctx context.Context, q db.Querier, events []TrackEvent) (map[string]bool, error) {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.MessageID)
	}

	var claimed []string
	err := q.SelectContext(ctx, &claimed, `
		INSERT INTO tracking_receipts (message_id)
		SELECT DISTINCT unnest($1::text[])
		ON CONFLICT (message_id) DO NOTHING
		RETURNING message_id
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	fresh := make(map[string]bool, len(claimed))
	for _, id := range claimed {
		fresh[id] = true
	}
	return fresh, nil
}

func (r *repository) existingBookings(ctx context.Context, q db.Querier, events []TrackEvent) (map[string]bool, error) {
	seen := map[string]bool{}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if !seen[ev.BookingID] {
			seen[ev.BookingID] = true
			ids = append(ids, ev.BookingID)
		}
	}

	var found []string
	if err := q.SelectContext(ctx, &found, `SELECT id FROM slot_bookings WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(found))
	for _, id := range found {
		known[id] = true
	}
	return known, nil
}

func (r *repository) recordView(ctx context.Context, q db.Querier, ev TrackEvent) (Counts, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_events (id, booking_id, actor_id, viewed_at)
		VALUES ($1, $2, $3, $4)
	`, r.ids.Generate().Int64(), ev.BookingID, ev.ActorID, ev.OccurredAt)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Impressions: 1}, nil
}

// recordClick closes the newest open event for the same booking and actor, or
// appends a viewed-and-clicked event when there is none.
func (r *repository) recordClick(ctx context.Context, q db.Querier, ev TrackEvent) (Counts, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE ledger_events
		SET clicked_at = $3
		WHERE id = (
			SELECT id FROM ledger_events
			WHERE booking_id = $1
			  AND actor_id IS NOT DISTINCT FROM $2
			  AND clicked_at IS NULL
			ORDER BY viewed_at DESC, id DESC
			LIMIT 1
			FOR UPDATE
		)
		AND clicked_at IS NULL
	`, ev.BookingID, ev.ActorID, ev.OccurredAt)
	if err != nil {
		return Counts{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return Counts{}, err
	}
	if rows > 0 {
		return Counts{Clicks: 1}, nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO ledger_events (id, booking_id, actor_id, viewed_at, clicked_at)
		VALUES ($1, $2, $3, $4, $4)
	`, r.ids.Generate().Int64(), ev.BookingID, ev.ActorID, ev.OccurredAt)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Impressions: 1, Clicks: 1}, nil
}

func (r *repository) mergeRollups(ctx context.Context, q db.Querier, deltas map[string]Counts) error {
	bookingIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		bookingIDs = append(bookingIDs, id)
	}
	// fixed lock order across concurrent flushes
	sort.Strings(bookingIDs)

	for _, id := range bookingIDs {
		d := deltas[id]
		_, err := q.ExecContext(ctx, `
			INSERT INTO booking_rollups (booking_id, impressions, clicks, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (booking_id) DO UPDATE
			SET impressions = booking_rollups.impressions + EXCLUDED.impressions,
			    clicks = booking_rollups.clicks + EXCLUDED.clicks,
			    updated_at = NOW()
		`, id, d.Impressions, d.Clicks)
		if err != nil {
			return err
		}
	}
	return nil
}

// Counts is the authoritative tally straight from the ledger.
func (r *repository) Counts(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	var c Counts
	err := q.GetContext(ctx, &c, `
		SELECT COUNT(*) AS impressions, COUNT(clicked_at) AS clicks
		FROM ledger_events
		WHERE booking_id = $1
	`, bookingID)
	return c, err
}

func (r *repository) Rollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	var c Counts
	err := q.GetContext(ctx, &c, `
		SELECT impressions, clicks FROM booking_rollups WHERE booking_id = $1
	`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return Counts{}, nil
	}
	return c, err
}

// RebuildRollup overwrites the summary with a fresh count from the ledger.
func (r *repository) RebuildRollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error) {
	var c Counts
	err := q.GetContext(ctx, &c, `
		INSERT INTO booking_rollups (booking_id, impressions, clicks, updated_at)
		SELECT $1, COUNT(*), COUNT(clicked_at), NOW()
		FROM ledger_events
		WHERE booking_id = $1
		ON CONFLICT (booking_id) DO UPDATE
		SET impressions = EXCLUDED.impressions,
		    clicks = EXCLUDED.clicks,
		    updated_at = NOW()
		RETURNING impressions, clicks
	`, bookingID)
	return c, err
}

func (r *repository) Events(ctx context.Context, q db.Querier, bookingID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	events := []Event{}
	err := q.SelectContext(ctx, &events, `
		SELECT id, booking_id, actor_id, viewed_at, clicked_at
		FROM ledger_events
		WHERE booking_id = $1
		ORDER BY viewed_at DESC, id DESC
		LIMIT $2
	`, bookingID, limit)
	return events, err
}
