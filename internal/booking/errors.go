package booking

import (
	"errors"

	"adslot/internal/wallet"
)

var (
	ErrSlotConflict      = errors.New("slot already booked for an overlapping window")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrOwnershipMismatch = errors.New("booking belongs to another owner")
	ErrExternalPayment   = errors.New("external payment failed")
	ErrInvalidState      = errors.New("booking is not in a state that allows this")
	ErrInvalidRequest    = errors.New("invalid booking request")

	// ErrInsufficientBalance is the wallet's sentinel so either package's
	// name matches with errors.Is.
	ErrInsufficientBalance = wallet.ErrInsufficientBalance
)
