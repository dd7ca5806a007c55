package calc

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stormcast/stormcast-backend/internal/markets"
)

// maxWager keeps encoded base units comfortably inside ledger amount range.
var maxWager = decimal.New(1, 18)

// ParseWager parses a bet amount typed by a user. Only positive whole numbers
// of human units are accepted.
func ParseWager(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: amount is required", markets.ErrInvalidAmount)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a whole number", markets.ErrInvalidAmount, raw)
	}
	return ValidateAmount(decimal.NewFromInt(n))
}

// ValidateAmount checks that an amount is positive and within bounds.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be positive", markets.ErrInvalidAmount)
	}
	if amount.GreaterThan(maxWager) {
		return decimal.Zero, fmt.Errorf("%w: too large", markets.ErrInvalidAmount)
	}
	return amount, nil
}

// ValidateDurationHours checks a market duration typed in hours.
func ValidateDurationHours(hours int) error {
	if hours <= 0 {
		return fmt.Errorf("%w: got %d hours", markets.ErrInvalidDuration, hours)
	}
	if hours > 24*365 {
		return fmt.Errorf("%w: at most one year", markets.ErrInvalidDuration)
	}
	return nil
}
