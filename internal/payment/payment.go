// Package payment opens payment intents on the external money rail and
// verifies asynchronous confirmations.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrGateway        = errors.New("payment gateway error")
	ErrUnverified     = errors.New("payment event could not be verified")
	ErrIgnoredEvent   = errors.New("payment event is not a charge outcome")
	ErrInvalidPayment = errors.New("invalid payment parameters")
)

// Intent carries enough metadata to reconcile a confirmation with its booking.
type Intent struct {
	BookingID    string
	OwnerID      string
	SlotType     string
	SlotKey      string
	DurationDays int
	Amount       decimal.Decimal
}

type IntentRef struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirectUrl,omitempty"`
}

// Outcome is a verified result of an intent.
type Outcome struct {
	BookingID string
	ChargeID  string
	Paid      bool
	Reason    string
}

type Gateway interface {
	CreateIntent(ctx context.Context, in Intent) (IntentRef, error)
	VerifyEvent(ctx context.Context, eventID string) (Outcome, error)
}

// Disabled is used when no payment provider is configured. External bookings
// fail fast instead of sitting in PENDING forever.
type Disabled struct{}

func (Disabled) CreateIntent(context.Context, Intent) (IntentRef, error) {
	return IntentRef{}, fmt.Errorf("%w: no payment provider configured", ErrGateway)
}

func (Disabled) VerifyEvent(context.Context, string) (Outcome, error) {
	return Outcome{}, ErrUnverified
}
