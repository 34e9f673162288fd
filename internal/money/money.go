package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits every supported currency uses.
const MinorDigits = 2

var (
	// ErrInvalidAmount is returned for anything that is not a positive decimal.
	ErrInvalidAmount = errors.New("amount must be a positive decimal")
	// ErrTooPrecise is returned when the value has more than two decimals.
	ErrTooPrecise = errors.New("amount has more than two decimal places")
)

// Amount is a positive value in minor units (cents). It decodes from a JSON
// number or string in major units, so "12.34", 12.34 and "12,34" are all 1234.
type Amount int64

// Parse converts a major-unit string to minor units.
func Parse(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidAmount
	}
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return FromDecimal(d)
}

// FromDecimal converts a major-unit decimal to minor units.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	minor := d.Shift(MinorDigits)
	if !minor.Equal(minor.Round(0)) {
		return 0, ErrTooPrecise
	}
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return Amount(minor.IntPart()), nil
}

// Cents returns the amount in minor units.
func (a Amount) Cents() int64 { return int64(a) }

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -MinorDigits)
}

// String formats the amount with two decimals, e.g. "12.34".
func (a Amount) String() string {
	return a.Decimal().StringFixed(MinorDigits)
}

// UnmarshalJSON accepts a quoted or unquoted decimal.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return ErrInvalidAmount
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return ErrInvalidAmount
		}
	}
	v, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalJSON writes the amount as a major-unit string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}
