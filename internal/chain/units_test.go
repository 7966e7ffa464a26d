package chain

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.5", 18, "500000000000000000"},
		{"1000", 6, "1000000000"},
		{"1.234567", 6, "1234567"},
		{"1.2345670", 6, "1234567"},
		{" 42 ", 0, "42"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.amount, tt.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(%q, %d) error: %v", tt.amount, tt.decimals, err)
		}
		if got.String() != tt.want {
			t.Errorf("ParseUnits(%q, %d) = %s, want %s", tt.amount, tt.decimals, got, tt.want)
		}
	}
}

func TestParseUnits_Invalid(t *testing.T) {
	for _, amount := range []string{"", "abc", "-1", "1.2.3"} {
		if _, err := ParseUnits(amount, 18); err == nil {
			t.Errorf("ParseUnits(%q) should fail", amount)
		}
	}
}

func TestParseUnits_ExcessPrecision(t *testing.T) {
	tests := []struct {
		amount   string
		decimals uint8
	}{
		{"1.23456789", 6},
		{"10.1234567", 6},
		{"0.5", 0},
	}
	for _, tt := range tests {
		if got, err := ParseUnits(tt.amount, tt.decimals); err == nil {
			t.Errorf("ParseUnits(%q, %d) = %s, want an error", tt.amount, tt.decimals, got)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		value    string
		decimals uint8
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"500000000000000000", 18, "0.5"},
		{"1000000000", 6, "1000"},
		{"1500000", 6, "1.5"},
		{"0", 6, "0"},
	}
	for _, tt := range tests {
		v, _ := new(big.Int).SetString(tt.value, 10)
		if got := FormatUnits(v, tt.decimals).String(); got != tt.want {
			t.Errorf("FormatUnits(%s, %d) = %s, want %s", tt.value, tt.decimals, got, tt.want)
		}
	}
	if !FormatUnits(nil, 18).IsZero() {
		t.Error("FormatUnits(nil) should be zero")
	}
}

func TestTruncateAddress(t *testing.T) {
	if got := TruncateAddress("0x1234567890123456789012345678901234567890"); got != "0x1234...7890" {
		t.Errorf("TruncateAddress = %s", got)
	}
	if got := TruncateAddress("0x123"); got != "0x123" {
		t.Errorf("short address changed: %s", got)
	}
	if got := TruncateAddress(""); got != "" {
		t.Errorf("empty address changed: %s", got)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1000", "$1,000.00"},
		{"1234.56", "$1,234.56"},
		{"1234.567", "$1,234.57"},
		{"0", "$0.00"},
		{"0.99", "$0.99"},
		{"1234567.89", "$1,234,567.89"},
	}
	for _, tt := range tests {
		if got := FormatUSD(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatUSD(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFormatPercentage(t *testing.T) {
	if got := FormatPercentage(decimal.RequireFromString("5.5"), 2); got != "5.50%" {
		t.Errorf("FormatPercentage = %s", got)
	}
	if got := FormatPercentage(decimal.RequireFromString("5.555"), 3); got != "5.555%" {
		t.Errorf("FormatPercentage = %s", got)
	}
}
