package slot

import (
	"context"
	"time"

	"adslot/internal/db"
)

type Repository interface {
	ListActive(ctx context.Context, q db.Querier, slotType string, slotKey *string, now time.Time) ([]Booking, error)
	HasConflict(ctx context.Context, q db.Querier, slotType string, slotKey *string, w Window) (bool, error)
	LockSlotType(ctx context.Context, q db.Querier, slotType string) error
	Create(ctx context.Context, q db.Querier, b *Booking) error
	GetByID(ctx context.Context, q db.Querier, id string) (*Booking, error)
	GetForUpdate(ctx context.Context, q db.Querier, id string) (*Booking, error)
	ListByOwner(ctx context.Context, q db.Querier, ownerID string) ([]Booking, error)
	SetPaymentRef(ctx context.Context, q db.Querier, id, ref string) error
	MarkSettled(ctx context.Context, q db.Querier, id string, activate bool, now time.Time) error
	MarkFailed(ctx context.Context, q db.Querier, id string) error
	Activate(ctx context.Context, q db.Querier, id string, now time.Time) error
	Reject(ctx context.Context, q db.Querier, id string, now time.Time) error
	DeleteUnactivated(ctx context.Context, q db.Querier, id, ownerID string) error
	DeactivateExpired(ctx context.Context, q db.Querier, now time.Time) ([]string, error)
}
