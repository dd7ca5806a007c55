// Package amount converts wager amounts between human units and the ledger's
// 18-decimal base units.
//
// Base units travel as decimal digit strings so they stay exact across the
// GraphQL boundary. Human amounts are decimal.Decimal values.
//
// The conversion is not fully symmetric. FromBaseUnits(ToBaseUnits(a)) returns
// a exactly whenever a has at most 18 fractional digits. ToBaseUnits(FromBaseUnits(s))
// returns the cleaned digit string of s, which differs from s whenever s carried
// formatting (separators, signs, a decimal point) or leading zeros.
package amount

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits in one human unit.
const Decimals = 18

// ErrInvalidAmount is returned when an amount cannot be encoded.
var ErrInvalidAmount = errors.New("invalid amount")

// ToBaseUnits returns floor(amount * 10^18) as a digit string.
func ToBaseUnits(amount decimal.Decimal) (string, error) {
	if !amount.IsPositive() {
		return "", fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	return amount.Shift(Decimals).Floor().BigInt().String(), nil
}

// ToBaseUnitsFloat encodes a float amount using its shortest decimal form.
func ToBaseUnitsFloat(amount float64) (string, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "", fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	return ToBaseUnits(decimal.NewFromFloat(amount))
}

// FromBaseUnits decodes a base-unit value into human units. It never fails:
// nil, empty and digit-free input decode to zero.
func FromBaseUnits(value any) decimal.Decimal {
	raw, ok := rawString(value)
	if !ok {
		return decimal.Zero
	}
	return FromBaseUnitsString(raw)
}

// FromBaseUnitsString decodes a base-unit string, dropping every non-digit.
func FromBaseUnitsString(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}

	cleaned := digitsOnly(raw)
	if cleaned == "" {
		return decimal.Zero
	}

	units, ok := new(big.Int).SetString(cleaned, 10)
	if !ok {
		return parseFallback(raw)
	}
	return decimal.NewFromBigInt(units, -Decimals)
}

// FromBaseUnitsFloat is FromBaseUnits for display code that wants a float.
func FromBaseUnitsFloat(value any) float64 {
	return FromBaseUnits(value).InexactFloat64()
}

func parseFallback(raw string) decimal.Decimal {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func rawString(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case json.Number:
		return v.String(), true
	case *big.Int:
		if v == nil {
			return "", false
		}
		return v.String(), true
	case int:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case uint64:
		return strconv.FormatUint(v, 10), true
	case uint32:
		return strconv.FormatUint(uint64(v), 10), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}
