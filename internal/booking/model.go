package booking

import (
	"strings"
	"time"

	"adslot/internal/slot"

	"github.com/shopspring/decimal"
)

const (
	maxDurationDays = 365
	// cache keys and glob patterns use these
	reservedChars = ":*?[]\\"
)

// Request is a paid booking attempt by an authenticated party.
type Request struct {
	OwnerID      string
	Role         string
	SlotType     string
	SlotKey      *string
	SlotIndex    int
	DurationDays int
	Method       slot.PaymentMethod
	StartDate    *time.Time
	CreativeURL  string
	RedirectURL  string
}

// HouseRequest places a system-owned booking. No charge applies.
type HouseRequest struct {
	SlotType     string
	SlotKey      *string
	SlotIndex    int
	Priority     int
	DurationDays int
	StartDate    *time.Time
	CreativeURL  string
	RedirectURL  string
}

type Quote struct {
	SlotType         string          `json:"slotType"`
	SlotKey          *string         `json:"slotKey,omitempty"`
	DurationDays     int             `json:"durationDays"`
	Window           slot.Window     `json:"window"`
	DailyRate        decimal.Decimal `json:"dailyRate"`
	UnitsPerMoney    decimal.Decimal `json:"unitsPerMoney"`
	CostMoney        decimal.Decimal `json:"costMoney"`
	CostBalanceUnits int64           `json:"costBalanceUnits"`
}

type Result struct {
	Booking            *slot.Booking
	PaymentRedirectURL string
}

func normaliseSlot(slotType string, slotKey *string) (string, *string) {
	slotType = strings.ToUpper(strings.TrimSpace(slotType))
	if slotKey == nil {
		return slotType, nil
	}
	k := strings.ToUpper(strings.TrimSpace(*slotKey))
	if k == "" {
		return slotType, nil
	}
	return slotType, &k
}

func validateShape(slotType string, slotKey *string, slotIndex, durationDays int) error {
	if slotType == "" || strings.ContainsAny(slotType, reservedChars) {
		return ErrInvalidRequest
	}
	if slotKey != nil && strings.ContainsAny(*slotKey, reservedChars) {
		return ErrInvalidRequest
	}
	if slotIndex < 0 || durationDays < 1 || durationDays > maxDurationDays {
		return ErrInvalidRequest
	}
	return nil
}
