package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adslot/internal/availability"
	"adslot/internal/db"
	"adslot/internal/logger"
	"adslot/internal/metrics"
	"adslot/internal/payment"
	"adslot/internal/slot"
	"adslot/internal/valuation"
	"adslot/internal/wallet"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	fkViolation = "23503"
	startSkew   = time.Minute
)

var tracer = otel.Tracer("adslot/booking")

type Service interface {
	Quote(ctx context.Context, req Request) (*Quote, error)
	Book(ctx context.Context, req Request) (*Result, error)
	ConfirmExternal(ctx context.Context, outcome payment.Outcome) (*slot.Booking, error)
	ConfirmEvent(ctx context.Context, eventID string) (*slot.Booking, error)
	Approve(ctx context.Context, id string) (*slot.Booking, error)
	Reject(ctx context.Context, id, reason string) (*slot.Booking, error)
	Cancel(ctx context.Context, ownerID, id string) error
	CreateHouse(ctx context.Context, req HouseRequest) (*slot.Booking, error)
	ListMine(ctx context.Context, ownerID string) ([]slot.Booking, error)
	Get(ctx context.Context, id string) (*slot.Booking, error)
}

type Options struct {
	// ActivateOnSettlement puts settled paid bookings live immediately.
	// When false they wait for Approve.
	ActivateOnSettlement bool
	Now                  func() time.Time
}

type service struct {
	tx        db.TxRunner
	db        db.Querier
	slots     slot.Repository
	wallets   wallet.Repository
	rates     *RateTable
	valuation valuation.Gateway
	payments  payment.Gateway
	cache     availability.Invalidator
	activate  bool
	now       func() time.Time
	log       *zap.SugaredLogger
}

func NewService(
	tx db.TxRunner,
	q db.Querier,
	slots slot.Repository,
	wallets wallet.Repository,
	rates *RateTable,
	valuationGateway valuation.Gateway,
	payments payment.Gateway,
	cache availability.Invalidator,
	opts Options,
) Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:        tx,
		db:        q,
		slots:     slots,
		wallets:   wallets,
		rates:     rates,
		valuation: valuationGateway,
		payments:  payments,
		cache:     cache,
		activate:  opts.ActivateOnSettlement,
		now:       now,
		log:       logger.Named("booking"),
	}
}

func (s *service) Quote(ctx context.Context, req Request) (*Quote, error) {
	req.SlotType, req.SlotKey = normaliseSlot(req.SlotType, req.SlotKey)
	if err := validateShape(req.SlotType, req.SlotKey, req.SlotIndex, req.DurationDays); err != nil {
		return nil, err
	}

	start, err := s.startAt(req.StartDate)
	if err != nil {
		return nil, err
	}

	vq, err := s.valuation.Quote(ctx, req.Role)
	if err != nil {
		return nil, fmt.Errorf("valuation: %w", err)
	}

	daily := s.rates.DailyRate(req.SlotType)
	costMoney, units := Price(daily, req.DurationDays, vq.UnitsPerMoney)

	return &Quote{
		SlotType:         req.SlotType,
		SlotKey:          req.SlotKey,
		DurationDays:     req.DurationDays,
		Window:           slot.NewWindow(start, req.DurationDays),
		DailyRate:        daily,
		UnitsPerMoney:    vq.UnitsPerMoney,
		CostMoney:        costMoney,
		CostBalanceUnits: units,
	}, nil
}

// startAt resolves the requested window start. Starts a little in the past
// (client clock skew) are moved to now; anything earlier is refused, since the
// price covers the full duration.
func (s *service) startAt(requested *time.Time) (time.Time, error) {
	now := s.now().UTC()
	if requested == nil {
		return now, nil
	}
	start := requested.UTC()
	if start.Before(now.Add(-startSkew)) {
		return time.Time{}, fmt.Errorf("%w: start date is in the past", ErrInvalidRequest)
	}
	if start.Before(now) {
		start = now
	}
	return start, nil
}

// Book claims a slot window and settles it. For the balance method the
// conflict check, the guarded debit and the insert share one transaction.
func (s *service) Book(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("slot.type", req.SlotType),
		attribute.String("payment.method", string(req.Method)),
	))
	defer span.End()

	if req.OwnerID == "" || !req.Method.Valid() {
		return nil, ErrInvalidRequest
	}

	q, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	owner := req.OwnerID
	b := &slot.Booking{
		ID:           uuid.NewString(),
		OwnerID:      &owner,
		SlotType:     q.SlotType,
		SlotKey:      q.SlotKey,
		SlotIndex:    req.SlotIndex,
		StartDate:    q.Window.Start,
		EndDate:      q.Window.End,
		DurationDays: q.DurationDays,
		Settlement: slot.Settlement{
			Method:           req.Method,
			CostMoney:        q.CostMoney,
			CostBalanceUnits: q.CostBalanceUnits,
		},
		CreativeURL: req.CreativeURL,
		RedirectURL: req.RedirectURL,
	}

	var result *Result
	switch req.Method {
	case slot.MethodBalance:
		result, err = s.bookWithBalance(ctx, b)
	case slot.MethodExternal:
		result, err = s.bookWithExternal(ctx, b)
	}

	outcome := "settled"
	switch {
	case errors.Is(err, ErrSlotConflict):
		outcome = "conflict"
	case errors.Is(err, ErrInsufficientBalance):
		outcome = "insufficient_balance"
	case errors.Is(err, ErrExternalPayment):
		outcome = "payment_failed"
	case err != nil:
		outcome = "error"
	case req.Method == slot.MethodExternal:
		outcome = "pending"
	}
	metrics.RecordBooking(outcome, string(req.Method))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return result, err
	}
	span.SetAttributes(attribute.String("booking.id", b.ID))
	return result, nil
}

func (s *service) bookWithBalance(ctx context.Context, b *slot.Booking) (*Result, error) {
	now := s.now()

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		if err := s.claim(ctx, q, b.SlotType, b.SlotKey, b.Window()); err != nil {
			return err
		}

		if b.CostBalanceUnits > 0 {
			if _, err := s.wallets.Debit(ctx, q, *b.OwnerID, b.CostBalanceUnits, wallet.TxBookingPayment, b.ID); err != nil {
				return err
			}
		}

		b.Status = slot.StatusSettled
		if s.activate {
			b.IsActive = true
			b.ActivatedAt = &now
		}
		return s.slots.Create(ctx, q, b)
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("booking settled from balance",
		"booking_id", b.ID,
		"owner_id", *b.OwnerID,
		"slot_type", b.SlotType,
		"units", b.CostBalanceUnits,
		"active", b.IsActive,
	)
	if b.IsActive {
		s.invalidate(ctx, b.SlotType)
	}
	return &Result{Booking: b}, nil
}

// bookWithExternal records a pending booking, then opens the payment intent
// outside the transaction. A failed intent marks the booking FAILED.
func (s *service) bookWithExternal(ctx context.Context, b *slot.Booking) (*Result, error) {
	b.Status = slot.StatusPending

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		if err := s.claim(ctx, q, b.SlotType, b.SlotKey, b.Window()); err != nil {
			return err
		}
		return s.slots.Create(ctx, q, b)
	})
	if err != nil {
		return nil, err
	}

	intent := payment.Intent{
		BookingID:    b.ID,
		OwnerID:      *b.OwnerID,
		SlotType:     b.SlotType,
		DurationDays: b.DurationDays,
		Amount:       b.CostMoney,
	}
	if b.SlotKey != nil {
		intent.SlotKey = *b.SlotKey
	}

	ref, err := s.payments.CreateIntent(ctx, intent)
	if err != nil {
		s.log.Errorw("payment intent failed", "booking_id", b.ID, "error", err)
		if merr := s.slots.MarkFailed(context.WithoutCancel(ctx), s.db, b.ID); merr != nil {
			s.log.Errorw("failed to mark booking failed", "booking_id", b.ID, "error", merr)
		} else {
			b.Status = slot.StatusFailed
		}
		return &Result{Booking: b}, fmt.Errorf("%w: %v", ErrExternalPayment, err)
	}

	if err := s.slots.SetPaymentRef(ctx, s.db, b.ID, ref.ID); err != nil {
		return &Result{Booking: b}, fmt.Errorf("store payment ref: %w", err)
	}
	b.PaymentRef = &ref.ID

	s.log.Infow("payment intent opened", "booking_id", b.ID, "payment_ref", ref.ID)
	return &Result{Booking: b, PaymentRedirectURL: ref.RedirectURL}, nil
}

// claim serializes bookers of a slot type and fails if the window is taken.
func (s *service) claim(ctx context.Context, q db.Querier, slotType string, slotKey *string, w slot.Window) error {
	if err := s.slots.LockSlotType(ctx, q, slotType); err != nil {
		return err
	}
	conflict, err := s.slots.HasConflict(ctx, q, slotType, slotKey, w)
	if err != nil {
		return err
	}
	if conflict {
		return ErrSlotConflict
	}
	return nil
}

// ConfirmExternal applies a verified payment outcome. Replays of an outcome
// already applied return the booking unchanged.
func (s *service) ConfirmExternal(ctx context.Context, outcome payment.Outcome) (*slot.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.ConfirmExternal", trace.WithAttributes(
		attribute.String("booking.id", outcome.BookingID),
		attribute.Bool("payment.paid", outcome.Paid),
	))
	defer span.End()

	now := s.now()
	var (
		b         *slot.Booking
		activated bool
	)

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		b, err = s.lockBooking(ctx, q, outcome.BookingID)
		if err != nil {
			return err
		}
		if b.Method != slot.MethodExternal {
			return ErrInvalidState
		}
		if b.PaymentRef == nil || *b.PaymentRef != outcome.ChargeID {
			return fmt.Errorf("%w: payment reference mismatch", ErrExternalPayment)
		}
		if b.Status != slot.StatusPending {
			return nil
		}

		if !outcome.Paid {
			if err := s.slots.MarkFailed(ctx, q, b.ID); err != nil {
				return err
			}
			b.Status = slot.StatusFailed
			return nil
		}

		// a rejection stands even when the payment arrives afterwards
		activate := s.activate && b.RejectedAt == nil
		if activate {
			if err := s.claim(ctx, q, b.SlotType, b.SlotKey, b.Window()); err != nil {
				if !errors.Is(err, ErrSlotConflict) {
					return err
				}
				// paid but the window was taken meanwhile; leave it for moderation
				s.log.Warnw("settled booking conflicts, awaiting approval", "booking_id", b.ID)
				activate = false
			}
			if !b.EndDate.After(now) {
				activate = false
			}
		}

		if err := s.slots.MarkSettled(ctx, q, b.ID, activate, now); err != nil {
			return err
		}
		b.Status = slot.StatusSettled
		if activate {
			b.IsActive = true
			b.ActivatedAt = &now
			activated = true
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.mapErr(err)
	}

	s.log.Infow("external payment applied", "booking_id", b.ID, "status", b.Status, "active", b.IsActive, "reason", outcome.Reason)
	if activated {
		s.invalidate(ctx, b.SlotType)
	}
	return b, nil
}

// ConfirmEvent verifies a gateway event and applies its outcome.
func (s *service) ConfirmEvent(ctx context.Context, eventID string) (*slot.Booking, error) {
	outcome, err := s.payments.VerifyEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.ConfirmExternal(ctx, outcome)
}

func (s *service) Approve(ctx context.Context, id string) (*slot.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.Approve", trace.WithAttributes(attribute.String("booking.id", id)))
	defer span.End()

	now := s.now()
	var b *slot.Booking

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		b, err = s.lockBooking(ctx, q, id)
		if err != nil {
			return err
		}
		if b.IsActive || b.Status != slot.StatusSettled || b.RejectedAt != nil || !b.EndDate.After(now) {
			return ErrInvalidState
		}
		if err := s.claim(ctx, q, b.SlotType, b.SlotKey, b.Window()); err != nil {
			return err
		}
		if err := s.slots.Activate(ctx, q, b.ID, now); err != nil {
			return err
		}
		b.IsActive = true
		b.ActivatedAt = &now
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.mapErr(err)
	}

	metrics.RecordModeration("approve")
	s.log.Infow("booking approved", "booking_id", b.ID, "slot_type", b.SlotType)
	s.invalidate(ctx, b.SlotType)
	return b, nil
}

// Reject takes a booking down for good. A settled balance booking that has not
// ended yet is refunded in the same transaction.
func (s *service) Reject(ctx context.Context, id, reason string) (*slot.Booking, error) {
	ctx, span := tracer.Start(ctx, "booking.Reject", trace.WithAttributes(attribute.String("booking.id", id)))
	defer span.End()

	now := s.now()
	var (
		b         *slot.Booking
		wasActive bool
		refunded  int64
	)

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		var err error
		b, err = s.lockBooking(ctx, q, id)
		if err != nil {
			return err
		}
		if b.RejectedAt != nil {
			return ErrInvalidState
		}
		wasActive = b.IsActive

		if err := s.slots.Reject(ctx, q, b.ID, now); err != nil {
			return err
		}
		b.IsActive = false
		b.RejectedAt = &now

		if b.Method == slot.MethodBalance && b.Status == slot.StatusSettled &&
			!b.IsHouse() && b.CostBalanceUnits > 0 && b.EndDate.After(now) {
			if _, err := s.wallets.Credit(ctx, q, *b.OwnerID, b.CostBalanceUnits, wallet.TxBookingRefund, b.ID); err != nil {
				return err
			}
			refunded = b.CostBalanceUnits
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.mapErr(err)
	}

	metrics.RecordModeration("reject")
	s.log.Infow("booking rejected", "booking_id", b.ID, "reason", reason, "refunded_units", refunded)
	if wasActive {
		s.invalidate(ctx, b.SlotType)
	}
	return b, nil
}

// Cancel deletes a booking that never went live and holds no settled payment.
func (s *service) Cancel(ctx context.Context, ownerID, id string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !b.OwnedBy(ownerID) {
		return ErrOwnershipMismatch
	}
	if b.ActivatedAt != nil || b.Status == slot.StatusSettled {
		return ErrInvalidState
	}

	if err := s.slots.DeleteUnactivated(ctx, s.db, id, ownerID); err != nil {
		return s.mapErr(err)
	}

	metrics.RecordBookingCancellation()
	s.log.Infow("booking cancelled", "booking_id", id, "owner_id", ownerID)
	return nil
}

// CreateHouse places a system-owned booking, live immediately.
func (s *service) CreateHouse(ctx context.Context, req HouseRequest) (*slot.Booking, error) {
	req.SlotType, req.SlotKey = normaliseSlot(req.SlotType, req.SlotKey)
	if err := validateShape(req.SlotType, req.SlotKey, req.SlotIndex, req.DurationDays); err != nil {
		return nil, err
	}

	now := s.now()
	start, err := s.startAt(req.StartDate)
	if err != nil {
		return nil, err
	}
	w := slot.NewWindow(start, req.DurationDays)

	b := &slot.Booking{
		ID:           uuid.NewString(),
		SlotType:     req.SlotType,
		SlotKey:      req.SlotKey,
		SlotIndex:    req.SlotIndex,
		Priority:     req.Priority,
		StartDate:    w.Start,
		EndDate:      w.End,
		DurationDays: req.DurationDays,
		IsActive:     true,
		ActivatedAt:  &now,
		Settlement: slot.Settlement{
			Method: slot.MethodBalance,
			Status: slot.StatusSettled,
		},
		CreativeURL: req.CreativeURL,
		RedirectURL: req.RedirectURL,
	}

	err = s.tx.WithTx(ctx, func(q db.Querier) error {
		if err := s.claim(ctx, q, b.SlotType, b.SlotKey, w); err != nil {
			return err
		}
		return s.slots.Create(ctx, q, b)
	})
	if err != nil {
		return nil, s.mapErr(err)
	}

	s.log.Infow("house booking created", "booking_id", b.ID, "slot_type", b.SlotType)
	s.invalidate(ctx, b.SlotType)
	return b, nil
}

func (s *service) ListMine(ctx context.Context, ownerID string) ([]slot.Booking, error) {
	return s.slots.ListByOwner(ctx, s.db, ownerID)
}

func (s *service) Get(ctx context.Context, id string) (*slot.Booking, error) {
	b, err := s.slots.GetByID(ctx, s.db, id)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return b, nil
}

func (s *service) lockBooking(ctx context.Context, q db.Querier, id string) (*slot.Booking, error) {
	b, err := s.slots.GetForUpdate(ctx, q, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// invalidate runs after commit. A failure only costs one TTL of staleness.
func (s *service) invalidate(ctx context.Context, slotType string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateSlotType(context.WithoutCancel(ctx), slotType); err != nil {
		s.log.Warnw("availability invalidation failed", "slot_type", slotType, "error", err)
	}
}

func (s *service) mapErr(err error) error {
	var pqErr *pq.Error
	switch {
	case errors.Is(err, slot.ErrNotFound):
		return ErrBookingNotFound
	case errors.Is(err, slot.ErrStateChanged):
		return ErrInvalidState
	case errors.As(err, &pqErr) && pqErr.Code == fkViolation:
		// ledger events still reference the booking
		return ErrInvalidState
	}
	return err
}
