package ledger

import (
	"context"

	"adslot/internal/db"
)

type Repository interface {
	// ApplyBatch must run inside one transaction.
	ApplyBatch(ctx context.Context, q db.Querier, events []TrackEvent) (ApplyResult, error)
	Counts(ctx context.Context, q db.Querier, bookingID string) (Counts, error)
	Rollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error)
	RebuildRollup(ctx context.Context, q db.Querier, bookingID string) (Counts, error)
	Events(ctx context.Context, q db.Querier, bookingID string, limit int) ([]Event, error)
}
