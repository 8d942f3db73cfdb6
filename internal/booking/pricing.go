package booking

import (
	"strings"

	"github.com/shopspring/decimal"
)

// RateTable holds money-per-day by slot type with a fallback for unknown types.
type RateTable struct {
	rates    map[string]decimal.Decimal
	fallback decimal.Decimal
}

func NewRateTable(rates map[string]decimal.Decimal, fallback decimal.Decimal) *RateTable {
	normalised := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		normalised[strings.ToUpper(k)] = v
	}
	return &RateTable{rates: normalised, fallback: fallback}
}

func (t *RateTable) DailyRate(slotType string) decimal.Decimal {
	if rate, ok := t.rates[strings.ToUpper(slotType)]; ok {
		return rate
	}
	return t.fallback
}

// Price returns the money cost of days at dailyRate and its balance-unit
// equivalent, rounded up so a partial unit is never given away.
func Price(dailyRate decimal.Decimal, days int, unitsPerMoney decimal.Decimal) (decimal.Decimal, int64) {
	costMoney := dailyRate.Mul(decimal.NewFromInt(int64(days)))
	if !unitsPerMoney.IsPositive() {
		return costMoney, 0
	}
	return costMoney, costMoney.Div(unitsPerMoney).Ceil().IntPart()
}
