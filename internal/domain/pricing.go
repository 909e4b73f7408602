package domain

import "github.com/shopspring/decimal"

// DefaultDiscountMultipliers is the quantity discount applied by position:
// full price for the first two movies, then 75%, 50%, 25% and free from the sixth on.
var DefaultDiscountMultipliers = []decimal.Decimal{
	decimal.NewFromInt(1),
	decimal.NewFromInt(1),
	decimal.RequireFromString("0.75"),
	decimal.RequireFromString("0.50"),
	decimal.RequireFromString("0.25"),
	decimal.Zero,
}

// TieredPricing prices a rental by position-based discount multipliers.
// Positions past the end of the table use the last multiplier.
type TieredPricing struct {
	Multipliers []decimal.Decimal
}

// NewTieredPricing creates a pricing policy; an empty table falls back to the defaults
func NewTieredPricing(multipliers []decimal.Decimal) *TieredPricing {
	if len(multipliers) == 0 {
		multipliers = DefaultDiscountMultipliers
	}
	return &TieredPricing{Multipliers: multipliers}
}

// Multiplier returns the discount multiplier for a 1-indexed position
func (p *TieredPricing) Multiplier(position int) decimal.Decimal {
	if position < 1 {
		return decimal.Zero
	}
	if position > len(p.Multipliers) {
		return p.Multipliers[len(p.Multipliers)-1]
	}
	return p.Multipliers[position-1]
}

// Price sums each movie's rental price times the multiplier of its position
func (p *TieredPricing) Price(movies []Movie) decimal.Decimal {
	total := decimal.Zero
	position := 0
	for _, m := range movies {
		position++
		total = total.Add(m.RentalPrice.Mul(p.Multiplier(position)))
	}
	return total
}
