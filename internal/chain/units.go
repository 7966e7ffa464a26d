package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a decimal token amount into base units. Amounts with
// more fractional digits than the token has are rejected.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q: negative", amount)
	}
	if d.Exponent() < -int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return nil, fmt.Errorf("invalid amount %q: more than %d decimal places", amount, decimals)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// FormatUnits converts base units into a decimal token amount.
func FormatUnits(value *big.Int, decimals uint8) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -int32(decimals))
}

// TruncateAddress shortens an address for display: 0x1234...7890.
func TruncateAddress(address string) string {
	const head, tail = 6, 4
	if len(address) <= head+tail {
		return address
	}
	return address[:head] + "..." + address[len(address)-tail:]
}

// FormatUSD renders an amount as dollars with thousands separators: $1,234.57.
func FormatUSD(amount decimal.Decimal) string {
	return "$" + groupThousands(amount.StringFixed(2))
}

// FormatPercentage renders an APY-style value with the given precision: 5.50%.
func FormatPercentage(value decimal.Decimal, places int32) string {
	return value.StringFixed(places) + "%"
}

func groupThousands(fixed string) string {
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
