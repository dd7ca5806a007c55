package calc

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Odds returns the YES and NO share of the total pool as percentages rounded
// to one decimal. An empty market is an even 50/50.
func Odds(yesPool, noPool decimal.Decimal) (yesPct, noPct decimal.Decimal) {
	total := yesPool.Add(noPool)
	if !total.IsPositive() {
		half := decimal.NewFromInt(50)
		return half, half
	}
	yesPct = yesPool.Div(total).Mul(hundred).Round(1)
	noPct = noPool.Div(total).Mul(hundred).Round(1)
	return yesPct, noPct
}

// PotentialPayout is what a stake on one side returns if that side wins:
// the stake's share of the winning pool applied to the whole pool, both
// including the stake itself.
func PotentialPayout(stake, sidePool, otherPool decimal.Decimal) decimal.Decimal {
	if !stake.IsPositive() {
		return decimal.Zero
	}
	winning := sidePool.Add(stake)
	total := winning.Add(otherPool)
	return stake.Mul(total).Div(winning).Round(6)
}

// Multiplier is PotentialPayout divided by the stake.
func Multiplier(stake, sidePool, otherPool decimal.Decimal) decimal.Decimal {
	if !stake.IsPositive() {
		return decimal.Zero
	}
	return PotentialPayout(stake, sidePool, otherPool).Div(stake).Round(4)
}
