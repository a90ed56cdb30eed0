// Package amount provides the monetary value type used across the payment
// engine. An Amount pairs a decimal total with an ISO-style currency code and
// defines the conversion and comparison contract between the two domestic
// currency units (rial and toman), which differ by a fixed factor of ten.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyIRR is the domestic minor unit (rial).
	CurrencyIRR = "IRR"
	// CurrencyIRT is the domestic major unit (toman). 1 IRT = 10 IRR.
	CurrencyIRT = "IRT"
)

// rialPerToman is the fixed conversion factor between the two domestic units.
var rialPerToman = decimal.NewFromInt(10)

// ErrNotConvertible is returned when a domestic-unit conversion is requested
// for a currency that is not one of the two domestic codes.
var ErrNotConvertible = errors.New("amount: currency not convertible to a domestic unit")

// ErrIncomparable is returned by Cmp when the two amounts use currencies that
// cannot be brought to a common unit.
var ErrIncomparable = errors.New("amount: amounts are not comparable")

// Amount is an immutable monetary value. The zero value is 0 units of the
// empty currency; use New to get validation.
type Amount struct {
	total    decimal.Decimal
	currency string
}

// New validates and builds an Amount. The total must be non-negative and
// carry at most two decimal places.
func New(total decimal.Decimal, currency string) (Amount, error) {
	if currency == "" {
		return Amount{}, fmt.Errorf("amount: currency is required")
	}
	if total.IsNegative() {
		return Amount{}, fmt.Errorf("amount: total %s is negative", total)
	}
	if total.Exponent() < -2 && !total.Equal(total.Truncate(2)) {
		return Amount{}, fmt.Errorf("amount: total %s has more than two decimal places", total)
	}
	return Amount{total: total, currency: currency}, nil
}

// FromInt64 builds an Amount from a whole number of currency units.
func FromInt64(total int64, currency string) (Amount, error) {
	return New(decimal.NewFromInt(total), currency)
}

// MustParse builds an Amount from a decimal string literal and panics on
// invalid input. Intended for tests and static configuration.
func MustParse(total, currency string) Amount {
	d, err := decimal.NewFromString(total)
	if err != nil {
		panic(fmt.Sprintf("amount: parse %q: %v", total, err))
	}
	a, err := New(d, currency)
	if err != nil {
		panic(err)
	}
	return a
}

// Total returns the decimal magnitude.
func (a Amount) Total() decimal.Decimal { return a.total }

// Currency returns the currency code.
func (a Amount) Currency() string { return a.currency }

// IsZero reports whether the amount has no magnitude.
func (a Amount) IsZero() bool { return a.total.IsZero() }

// String renders "total currency", e.g. "15000 IRR".
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.total.String(), a.currency)
}

// IsDomestic reports whether the currency is one of the two domestic codes.
func (a Amount) IsDomestic() bool {
	return a.currency == CurrencyIRR || a.currency == CurrencyIRT
}

// ToRial converts the amount to the domestic minor unit. Only domestic
// amounts are convertible; anything else fails with ErrNotConvertible.
func (a Amount) ToRial() (Amount, error) {
	switch a.currency {
	case CurrencyIRR:
		return a, nil
	case CurrencyIRT:
		return Amount{total: a.total.Mul(rialPerToman), currency: CurrencyIRR}, nil
	default:
		return Amount{}, fmt.Errorf("%w: %s", ErrNotConvertible, a.currency)
	}
}

// ToToman converts the amount to the domestic major unit. Only domestic
// amounts are convertible; anything else fails with ErrNotConvertible.
func (a Amount) ToToman() (Amount, error) {
	switch a.currency {
	case CurrencyIRT:
		return a, nil
	case CurrencyIRR:
		return Amount{total: a.total.Div(rialPerToman), currency: CurrencyIRT}, nil
	default:
		return Amount{}, fmt.Errorf("%w: %s", ErrNotConvertible, a.currency)
	}
}

// Cmp compares two amounts and returns -1, 0 or 1. Amounts are comparable
// when they share a currency, or when both are domestic (auto-converted to
// rial first). Any other pairing fails with ErrIncomparable.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.currency == b.currency {
		return a.total.Cmp(b.total), nil
	}
	if a.IsDomestic() && b.IsDomestic() {
		ar, err := a.ToRial()
		if err != nil {
			return 0, err
		}
		br, err := b.ToRial()
		if err != nil {
			return 0, err
		}
		return ar.total.Cmp(br.total), nil
	}
	return 0, fmt.Errorf("%w: %s vs %s", ErrIncomparable, a.currency, b.currency)
}

// Equal reports whether two amounts compare equal. A failed comparison means
// "not equal", never an error.
func (a Amount) Equal(b Amount) bool {
	c, err := a.Cmp(b)
	if err != nil {
		return false
	}
	return c == 0
}
