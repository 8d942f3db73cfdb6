package slot

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	MethodBalance  PaymentMethod = "BALANCE"
	MethodExternal PaymentMethod = "EXTERNAL"
)

func (m PaymentMethod) Valid() bool {
	return m == MethodBalance || m == MethodExternal
}

type SettlementStatus string

const (
	StatusPending SettlementStatus = "PENDING"
	StatusSettled SettlementStatus = "SETTLED"
	StatusFailed  SettlementStatus = "FAILED"
)

type Settlement struct {
	Method           PaymentMethod    `db:"settlement_method" json:"method"`
	Status           SettlementStatus `db:"settlement_status" json:"status"`
	CostMoney        decimal.Decimal  `db:"cost_money" json:"costMoney"`
	CostBalanceUnits int64            `db:"cost_balance_units" json:"costBalanceUnits"`
}

// Booking is one claim on a slot. A nil OwnerID marks a house booking.
type Booking struct {
	ID           string    `db:"id" json:"id"`
	OwnerID      *string   `db:"owner_id" json:"ownerId"`
	SlotType     string    `db:"slot_type" json:"slotType"`
	SlotKey      *string   `db:"slot_key" json:"slotKey,omitempty"`
	SlotIndex    int       `db:"slot_index" json:"slotIndex"`
	Priority     int       `db:"priority" json:"priority"`
	StartDate    time.Time `db:"start_date" json:"startDate"`
	EndDate      time.Time `db:"end_date" json:"endDate"`
	DurationDays int       `db:"duration_days" json:"durationDays"`
	IsActive     bool      `db:"is_active" json:"isActive"`
	Settlement   `json:"settlement"`
	PaymentRef   *string    `db:"payment_ref" json:"paymentRef,omitempty"`
	CreativeURL  string     `db:"creative_url" json:"creativeUrl"`
	RedirectURL  string     `db:"redirect_url" json:"redirectUrl"`
	ActivatedAt  *time.Time `db:"activated_at" json:"activatedAt,omitempty"`
	RejectedAt   *time.Time `db:"rejected_at" json:"rejectedAt,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updatedAt"`
}

func (b *Booking) IsHouse() bool {
	return b.OwnerID == nil
}

func (b *Booking) Window() Window {
	return Window{Start: b.StartDate, End: b.EndDate}
}

func (b *Booking) OwnedBy(ownerID string) bool {
	return b.OwnerID != nil && *b.OwnerID == ownerID
}

// Summary is the public shape served by the active-slots endpoint.
type Summary struct {
	ID          string    `json:"id"`
	OwnerID     *string   `json:"ownerId"`
	SlotType    string    `json:"slotType"`
	SlotKey     *string   `json:"slotKey,omitempty"`
	SlotIndex   int       `json:"slotIndex"`
	Priority    int       `json:"priority"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
	CreativeURL string    `json:"creativeUrl"`
	RedirectURL string    `json:"redirectUrl"`
}

func Summarize(bookings []Booking) []Summary {
	out := make([]Summary, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, Summary{
			ID:          b.ID,
			OwnerID:     b.OwnerID,
			SlotType:    b.SlotType,
			SlotKey:     b.SlotKey,
			SlotIndex:   b.SlotIndex,
			Priority:    b.Priority,
			StartDate:   b.StartDate,
			EndDate:     b.EndDate,
			CreativeURL: b.CreativeURL,
			RedirectURL: b.RedirectURL,
		})
	}
	return out
}
