package wallet

import "time"

// Wallet holds an owner's pre-funded balance in internal units.
type Wallet struct {
	OwnerID   string    `db:"owner_id" json:"ownerId"`
	Balance   int64     `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type Transaction struct {
	ID           int64     `db:"id" json:"id"`
	OwnerID      string    `db:"owner_id" json:"ownerId"`
	Amount       int64     `db:"amount" json:"amount"`
	Type         string    `db:"type" json:"type"` // topup, booking_payment, booking_refund
	Reference    *string   `db:"reference" json:"reference,omitempty"`
	BalanceAfter int64     `db:"balance_after" json:"balanceAfter"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

const (
	TxTopUp          = "topup"
	TxBookingPayment = "booking_payment"
	TxBookingRefund  = "booking_refund"
)
