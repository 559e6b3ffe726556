package domain

import "github.com/shopspring/decimal"

// MinorUnitsPerMajor is the kobo-to-naira ratio.
const MinorUnitsPerMajor = 100

// MinorToMajor converts an amount in minor currency units (kobo) to major
// units (naira).
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).DivRound(decimal.NewFromInt(MinorUnitsPerMajor), 2)
}

// FormatMajor renders a minor-unit amount as a human-facing major-unit string
// with two decimal places, e.g. 250000 -> "2500.00".
func FormatMajor(minor int64) string {
	return MinorToMajor(minor).StringFixed(2)
}
