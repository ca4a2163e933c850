package decimal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Zero is decimal zero
var Zero = decimal.Zero

var hundred = decimal.NewFromInt(100)

// Aliquot formats accepted by provider configuration
const (
	FormatPercent = "percent" // 5.00 means 5%
	FormatDecimal = "decimal" // 0.05 means 5%
)

// ISS aliquot bounds in percent (LC 116/2003 as amended by LC 157/2016)
var (
	MinISSAliquot = decimal.NewFromInt(2)
	MaxISSAliquot = decimal.NewFromInt(5)
)

// FromString parses decimal from string, accepting a comma as decimal separator
func FromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Parse converts a JSON scalar (string, number) into a decimal
func Parse(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return FromString(x)
	case json.Number:
		return decimal.NewFromString(x.String())
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case nil:
		return Zero, fmt.Errorf("aliquot is empty")
	}
	return Zero, fmt.Errorf("unsupported aliquot type %T", v)
}

// ToPercent normalizes an aliquot expressed in format to percent
func ToPercent(d decimal.Decimal, format string) decimal.Decimal {
	if format == FormatDecimal {
		return d.Mul(hundred)
	}
	return d
}

// FromPercent converts a percent aliquot into format
func FromPercent(d decimal.Decimal, format string) decimal.Decimal {
	if format == FormatDecimal {
		return d.Div(hundred)
	}
	return d
}

// FormatAliquot renders a percent aliquot in the configured format:
// "5.00" for percent, "0.0500" for decimal
func FormatAliquot(percent decimal.Decimal, format string) string {
	if format == FormatDecimal {
		return FromPercent(percent, format).StringFixed(4)
	}
	return percent.StringFixed(2)
}

// CalculateISS computes base * (aliquot/100), rounded to cents
func CalculateISS(base, aliquotPercent decimal.Decimal) decimal.Decimal {
	return base.Mul(aliquotPercent).Div(hundred).Round(2)
}

// IsValidISSAliquot reports whether a percent aliquot is inside legal bounds
func IsValidISSAliquot(percent decimal.Decimal) bool {
	return percent.GreaterThanOrEqual(MinISSAliquot) && percent.LessThanOrEqual(MaxISSAliquot)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// RoundBRL rounds to cents
func RoundBRL(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
