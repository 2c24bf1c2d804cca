// Package money converts between external decimal amounts and the integer
// minor units used everywhere inside the ledger. Debit/credit arithmetic is
// never performed on floating point.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrPrecision indicates an amount with more precision than the currency's minor unit.
	ErrPrecision = errors.New("money: amount exceeds minor unit precision")
	// ErrNegative indicates a negative amount where only positive ones are accepted.
	ErrNegative = errors.New("money: amount must be positive")
	// ErrUnknownCurrency indicates an unrecognised ISO 4217 code.
	ErrUnknownCurrency = errors.New("money: unknown currency")
)

// Scale returns the number of minor-unit decimal places for an ISO 4217 code.
func Scale(code string) (int, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Cash.Rounding(unit)
	return scale, nil
}

// ToMinorUnits converts a decimal string such as "1250.75" into minor units
// for the given currency. Amounts finer than the minor unit are rejected.
func ToMinorUnits(amount string, code string) (int64, error) {
	scale, err := Scale(code)
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", amount, err)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s %s", ErrPrecision, amount, code)
	}
	return shifted.IntPart(), nil
}

// PositiveMinorUnits is ToMinorUnits restricted to strictly positive amounts,
// used for journal line inputs where zero and negative are invalid.
func PositiveMinorUnits(amount string, code string) (int64, error) {
	v, err := ToMinorUnits(amount, code)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, ErrNegative
	}
	return v, nil
}

// Format renders minor units as a fixed-point decimal string for the currency.
func Format(minor int64, code string) (string, error) {
	scale, err := Scale(code)
	if err != nil {
		return "", err
	}
	return decimal.NewFromInt(minor).Shift(-int32(scale)).StringFixed(int32(scale)), nil
}
