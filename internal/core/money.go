// Package core provides money parsing and handling utilities.
//
// Amounts are kept as int64 counts of minor units (cents). This file converts
// between that representation and decimal strings.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor currency units.
type Money struct {
	Cents int64
}

// ParseMoney converts a decimal string to cents with half-up rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and signed
// values, since plan cells can hold credits.
//
// Examples:
//
//	ParseMoney("12.34")  -> 1234
//	ParseMoney("-12,34") -> -1234
//	ParseMoney("12.345") -> 1235 (half-up)
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsInteger() || cents.Abs().GreaterThan(decimal.NewFromInt(maxCents)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

// maxCents leaves headroom for summing a handful of cells without overflow.
const maxCents = 1 << 60

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
