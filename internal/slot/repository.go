package slot

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"adslot/internal/db"
)

var (
	ErrNotFound     = errors.New("booking not found")
	ErrStateChanged = errors.New("booking is not in the expected state")
)

const bookingColumns = `id, owner_id, slot_type, slot_key, slot_index, priority, start_date, end_date,
		duration_days, is_active, settlement_method, settlement_status, cost_money, cost_balance_units,
		payment_ref, creative_url, redirect_url, activated_at, rejected_at, created_at, updated_at`

type repository struct{}

func NewRepository() Repository {
	return &repository{}
}

func (r *repository) ListActive(ctx context.Context, q db.Querier, slotType string, slotKey *string, now time.Time) ([]Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM slot_bookings
		WHERE slot_type = $1
		  AND is_active
		  AND start_date <= $3 AND end_date > $3
		  AND ($2::text IS NULL OR slot_key = $2)
		ORDER BY (owner_id IS NULL) DESC, priority DESC, slot_index ASC
	`

	bookings := []Booking{}
	if err := q.SelectContext(ctx, &bookings, query, slotType, slotKey, now); err != nil {
		return nil, err
	}
	return bookings, nil
}

// HasConflict must run on the same transaction as the insert that follows it.
func (r *repository) HasConflict(ctx context.Context, q db.Querier, slotType string, slotKey *string, w Window) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM slot_bookings
			WHERE slot_type = $1
			  AND is_active
			  AND ($2::text IS NULL OR slot_key IS NULL OR slot_key = $2)
			  AND start_date < $4 AND $3 < end_date
		)
	`

	var exists bool
	if err := q.GetContext(ctx, &exists, query, slotType, slotKey, w.Start, w.End); err != nil {
		return false, err
	}
	return exists, nil
}

// LockSlotType takes a transaction-scoped advisory lock so bookers of one slot
// type serialize between the conflict check and the insert.
func (r *repository) LockSlotType(ctx context.Context, q db.Querier, slotType string) error {
	_, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, slotType)
	return err
}

func (r *repository) Create(ctx context.Context, q db.Querier, b *Booking) error {
	query := `
		INSERT INTO slot_bookings (id, owner_id, slot_type, slot_key, slot_index, priority, start_date, end_date,
			duration_days, is_active, settlement_method, settlement_status, cost_money, cost_balance_units,
			payment_ref, creative_url, redirect_url, activated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at
	`

	return q.QueryRowxContext(ctx, query,
		b.ID, b.OwnerID, b.SlotType, b.SlotKey, b.SlotIndex, b.Priority, b.StartDate, b.EndDate,
		b.DurationDays, b.IsActive, b.Method, b.Status, b.CostMoney, b.CostBalanceUnits,
		b.PaymentRef, b.CreativeURL, b.RedirectURL, b.ActivatedAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *repository) GetByID(ctx context.Context, q db.Querier, id string) (*Booking, error) {
	return r.get(ctx, q, `SELECT `+bookingColumns+` FROM slot_bookings WHERE id = $1`, id)
}

func (r *repository) GetForUpdate(ctx context.Context, q db.Querier, id string) (*Booking, error) {
	return r.get(ctx, q, `SELECT `+bookingColumns+` FROM slot_bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) get(ctx context.Context, q db.Querier, query, id string) (*Booking, error) {
	var b Booking
	if err := q.GetContext(ctx, &b, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) ListByOwner(ctx context.Context, q db.Querier, ownerID string) ([]Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM slot_bookings
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	bookings := []Booking{}
	if err := q.SelectContext(ctx, &bookings, query, ownerID); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repository) SetPaymentRef(ctx context.Context, q db.Querier, id, ref string) error {
	return expectOne(q.ExecContext(ctx, `
		UPDATE slot_bookings
		SET payment_ref = $2, updated_at = NOW()
		WHERE id = $1 AND settlement_status = 'PENDING'
	`, id, ref))
}

func (r *repository) MarkSettled(ctx context.Context, q db.Querier, id string, activate bool, now time.Time) error {
	return expectOne(q.ExecContext(ctx, `
		UPDATE slot_bookings
		SET settlement_status = 'SETTLED',
		    is_active = ($2 AND rejected_at IS NULL),
		    activated_at = CASE WHEN $2 AND rejected_at IS NULL THEN $3 ELSE activated_at END,
		    updated_at = NOW()
		WHERE id = $1 AND settlement_status = 'PENDING'
	`, id, activate, now))
}

func (r *repository) MarkFailed(ctx context.Context, q db.Querier, id string) error {
	return expectOne(q.ExecContext(ctx, `
		UPDATE slot_bookings
		SET settlement_status = 'FAILED', is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND settlement_status = 'PENDING'
	`, id))
}

func (r *repository) Activate(ctx context.Context, q db.Querier, id string, now time.Time) error {
	return expectOne(q.ExecContext(ctx, `
		UPDATE slot_bookings
		SET is_active = TRUE, activated_at = $2, updated_at = NOW()
		WHERE id = $1
		  AND NOT is_active
		  AND settlement_status = 'SETTLED'
		  AND rejected_at IS NULL
		  AND end_date > $2
	`, id, now))
}

func (r *repository) Reject(ctx context.Context, q db.Querier, id string, now time.Time) error {
	return expectOne(q.ExecContext(ctx, `
		UPDATE slot_bookings
		SET is_active = FALSE, rejected_at = $2, updated_at = NOW()
		WHERE id = $1 AND rejected_at IS NULL
	`, id, now))
}

// DeleteUnactivated removes a booking that never went live and holds no settled payment.
func (r *repository) DeleteUnactivated(ctx context.Context, q db.Querier, id, ownerID string) error {
	return expectOne(q.ExecContext(ctx, `
		DELETE FROM slot_bookings
		WHERE id = $1
		  AND owner_id = $2
		  AND activated_at IS NULL
		  AND settlement_status <> 'SETTLED'
	`, id, ownerID))
}

// DeactivateExpired closes every active booking whose window has ended and
// returns the slot type of each row it touched.
func (r *repository) DeactivateExpired(ctx context.Context, q db.Querier, now time.Time) ([]string, error) {
	var slotTypes []string
	err := q.SelectContext(ctx, &slotTypes, `
		UPDATE slot_bookings
		SET is_active = FALSE, updated_at = NOW()
		WHERE is_active AND end_date < $1
		RETURNING slot_type
	`, now)
	if err != nil {
		return nil, err
	}
	return slotTypes, nil
}

func expectOne(result sql.Result, err error) error {
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrStateChanged
	}
	return nil
}
