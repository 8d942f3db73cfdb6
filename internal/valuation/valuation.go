// Package valuation converts money into internal balance units for a caller role.
package valuation

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrNoRate = errors.New("no valuation rate configured")

// Quote is the exchange data for one role at one point in time.
type Quote struct {
	UnitsPerMoney      decimal.Decimal `json:"unitsPerMoney"`
	CoinsPerGoodRating int64           `json:"coinsPerGoodRating"`
}

type Gateway interface {
	Quote(ctx context.Context, role string) (Quote, error)
}

// StaticGateway serves rates from a fixed table with a default fallback.
type StaticGateway struct {
	rates              map[string]decimal.Decimal
	fallback           decimal.Decimal
	coinsPerGoodRating int64
}

func NewStaticGateway(rates map[string]decimal.Decimal, fallback decimal.Decimal, coinsPerGoodRating int64) *StaticGateway {
	normalised := make(map[string]decimal.Decimal, len(rates))
	for role, rate := range rates {
		normalised[strings.ToLower(role)] = rate
	}
	return &StaticGateway{
		rates:              normalised,
		fallback:           fallback,
		coinsPerGoodRating: coinsPerGoodRating,
	}
}

func (g *StaticGateway) Quote(ctx context.Context, role string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}

	rate, ok := g.rates[strings.ToLower(role)]
	if !ok {
		rate = g.fallback
	}
	if !rate.IsPositive() {
		return Quote{}, ErrNoRate
	}

	return Quote{UnitsPerMoney: rate, CoinsPerGoodRating: g.coinsPerGoodRating}, nil
}
