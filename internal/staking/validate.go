package staking

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vaporfund/staking-widget/pkg/types"
)

// Validation messages
const (
	MsgInvalidAmount       = "Please enter a valid amount"
	MsgInsufficientBalance = "Insufficient balance"
)

// Bounds are the configured stake limits, in token units
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// DefaultBounds returns the standard limits of 10 to 100000
func DefaultBounds() Bounds {
	return Bounds{
		Min: decimal.NewFromInt(10),
		Max: decimal.NewFromInt(100000),
	}
}

// ParseAmount parses a user-entered decimal amount
func ParseAmount(amount string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(amount))
}

// ValidateStakeAmount checks amount against the bounds and the balance.
// Rules apply in order and the first violation wins, so an out-of-bounds
// amount is reported as such even when the balance is also too low.
// It returns nil when the amount is acceptable.
func ValidateStakeAmount(amount string, balance decimal.Decimal, bounds Bounds) *types.WidgetError {
	value, err := ParseAmount(amount)
	if err != nil || !value.IsPositive() {
		return types.NewWidgetError(types.ErrAmountTooLow, MsgInvalidAmount)
	}
	if value.LessThan(bounds.Min) {
		return types.NewWidgetError(types.ErrAmountTooLow, fmt.Sprintf("Minimum stake amount is $%s", bounds.Min))
	}
	if value.GreaterThan(bounds.Max) {
		return types.NewWidgetError(types.ErrAmountTooHigh, fmt.Sprintf("Maximum stake amount is $%s", bounds.Max))
	}
	if value.GreaterThan(balance) {
		return types.NewWidgetError(types.ErrInsufficientBalance, MsgInsufficientBalance)
	}
	return nil
}
