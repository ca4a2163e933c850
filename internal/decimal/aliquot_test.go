package decimal_test

import (
	"encoding/json"
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/nfse-processor/internal/decimal"
)

func TestFromString(t *testing.T) {
	d, err := decimal.FromString("2.50")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("2.5")))

	d, err = decimal.FromString(" 2,75 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("2.75")))

	_, err = decimal.FromString("not-a-number")
	require.Error(t, err)
}

func TestMustFromString(t *testing.T) {
	d := decimal.MustFromString("5")
	assert.True(t, d.Equal(dec.NewFromInt(5)))

	assert.Panics(t, func() {
		decimal.MustFromString("invalid")
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "3.00", "3"},
		{"comma string", "3,5", "3.5"},
		{"float", 2.5, "2.5"},
		{"int", 4, "4"},
		{"json number", json.Number("0.05"), "0.05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.Parse(tt.input)
			require.NoError(t, err)
			assert.True(t, d.Equal(dec.RequireFromString(tt.expected)), "got %s", d)
		})
	}

	_, err := decimal.Parse(nil)
	assert.Error(t, err)
	_, err = decimal.Parse([]int{1})
	assert.Error(t, err)
}

func TestToPercent(t *testing.T) {
	d := decimal.ToPercent(dec.RequireFromString("0.05"), decimal.FormatDecimal)
	assert.True(t, d.Equal(dec.NewFromInt(5)))

	d = decimal.ToPercent(dec.RequireFromString("5"), decimal.FormatPercent)
	assert.True(t, d.Equal(dec.NewFromInt(5)))
}

func TestFormatAliquot(t *testing.T) {
	five := dec.NewFromInt(5)
	assert.Equal(t, "5.00", decimal.FormatAliquot(five, decimal.FormatPercent))
	assert.Equal(t, "0.0500", decimal.FormatAliquot(five, decimal.FormatDecimal))
	assert.Equal(t, "2.00", decimal.FormatAliquot(dec.NewFromInt(2), ""))
}

func TestCalculateISS(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		aliquot  string
		expected string
	}{
		{"5% of 1000", "1000", "5", "50"},
		{"2% of 1234.56", "1234.56", "2", "24.69"},
		{"3.5% of 99.99", "99.99", "3.5", "3.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := decimal.CalculateISS(dec.RequireFromString(tt.base), dec.RequireFromString(tt.aliquot))
			assert.True(t, result.Equal(dec.RequireFromString(tt.expected)),
				"got %s, want %s", result.String(), tt.expected)
		})
	}
}

func TestIsValidISSAliquot(t *testing.T) {
	assert.True(t, decimal.IsValidISSAliquot(dec.NewFromInt(2)))
	assert.True(t, decimal.IsValidISSAliquot(dec.NewFromInt(5)))
	assert.False(t, decimal.IsValidISSAliquot(dec.RequireFromString("1.99")))
	assert.False(t, decimal.IsValidISSAliquot(dec.RequireFromString("5.01")))
}

func TestIsNonNegative(t *testing.T) {
	assert.True(t, decimal.IsNonNegative(dec.NewFromInt(1)))
	assert.True(t, decimal.IsNonNegative(dec.Zero))
	assert.False(t, decimal.IsNonNegative(dec.NewFromInt(-1)))
}

func TestRoundBRL(t *testing.T) {
	d := dec.RequireFromString("123.456")
	assert.True(t, decimal.RoundBRL(d).Equal(dec.RequireFromString("123.46")))
}
