/*
money.go - Decimal helpers shared by the engine

All money and quantities flow through decimal.Decimal; float64 appears only
at the JSON boundary. Derived monetary fields are rounded to 2 decimal
places INDEPENDENTLY before being combined, matching what is persisted,
which is why totals carry a sub-cent consistency tolerance (totals.go).
*/
package settlement

import "github.com/shopspring/decimal"

// TaxRate is the value-added tax applied when a requisition elects
// tax-inclusive treatment.
var TaxRate = decimal.NewFromFloat(0.16)

// ConsistencyTolerance bounds the drift independent rounding may introduce
// between total and subtotal+tax.
var ConsistencyTolerance = decimal.NewFromFloat(0.05)

var oneHundred = decimal.NewFromInt(100)

// RoundMoney rounds to 2 decimal places, half away from zero.
func RoundMoney(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// FloorZero clamps negative values to zero. Pools never go negative.
func FloorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// Percent applies pct (expressed as 10 for 10%) to v.
func Percent(v, pct decimal.Decimal) decimal.Decimal {
	return v.Mul(pct).Div(oneHundred)
}

// MustParseDecimal parses s, returning zero on malformed input. Used for
// seed data and test fixtures where a panic would be worse than a zero.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
