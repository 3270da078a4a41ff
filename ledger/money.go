package ledger

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - BRL amount with cent precision
// =============================================================================

// Money is a currency amount always rounded to two decimal places.
// The zero value is R$ 0,00.
type Money struct {
	d decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// MaxAmount bounds every single movement, posting and counted amount, so
// that stored cents and per-register sums stay far inside int64.
var MaxAmount = MoneyFromCents(99_999_999_999_999)

func Zero() Money { return Money{} }

// NewMoney builds an amount from a decimal, rounding to the cent.
func NewMoney(d decimal.Decimal) Money { return Money{d: d.Round(2)} }

// MoneyFromCents builds an amount from an integer number of cents.
func MoneyFromCents(cents int64) Money { return Money{d: decimal.New(cents, -2)} }

// Rounding costs time in the size of the exponent, so amounts from outside
// are bounded before they are rounded. checkLimit applies the exact bound
// later.
const (
	maxInputLength        = 64
	maxInputIntegerDigits = 20
	maxInputDigits        = 40
)

var errInputTooLong = &ValidationError{Field: "amount", Message: fmt.Sprintf("must be at most %d characters", maxInputLength), Err: ErrAmountTooPrecise}

// ParseMoney parses "150", "150.5" or "150.50".
func ParseMoney(s string) (Money, error) {
	if len(s) > maxInputLength {
		return Money{}, errInputTooLong
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return moneyFromInput(d)
}

// moneyFromInput is NewMoney for untrusted decimals.
func moneyFromInput(d decimal.Decimal) (Money, error) {
	if d.IsZero() {
		return Zero(), nil
	}
	digits, exp := int64(d.NumDigits()), int64(d.Exponent())
	if digits+exp > maxInputIntegerDigits {
		return Money{}, &ValidationError{Field: "amount", Message: "must not exceed " + MaxAmount.String(), Err: ErrAmountTooLarge}
	}
	if digits > maxInputDigits || -exp > maxInputDigits {
		return Money{}, &ValidationError{Field: "amount", Message: fmt.Sprintf("must have at most %d digits", maxInputDigits), Err: ErrAmountTooPrecise}
	}
	return NewMoney(d), nil
}

// MustMoney is ParseMoney for literals; it panics on malformed input.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

// Cents returns the amount as an integer number of cents. This is the
// persisted representation.
func (m Money) Cents() int64 { return m.d.Mul(hundred).IntPart() }

func (m Money) Add(o Money) Money { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money        { return Money{d: m.d.Abs()} }

func (m Money) IsZero() bool          { return m.d.IsZero() }
func (m Money) IsPositive() bool      { return m.d.IsPositive() }
func (m Money) IsNegative() bool      { return m.d.IsNegative() }
func (m Money) Equal(o Money) bool    { return m.d.Equal(o.d) }
func (m Money) LessThan(o Money) bool { return m.d.LessThan(o.d) }

func (m Money) String() string { return m.d.StringFixed(2) }

// checkLimit rejects amounts whose magnitude is above MaxAmount.
func checkLimit(field string, m Money) error {
	if m.d.Abs().GreaterThan(MaxAmount.d) {
		return &ValidationError{Field: field, Message: "must not exceed " + MaxAmount.String(), Err: ErrAmountTooLarge}
	}
	return nil
}

// MarshalJSON encodes the amount as a quoted fixed-point string ("150.00").
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts both "150.00" and 150.00.
func (m *Money) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	if len(data) > maxInputLength {
		return errInputTooLong
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := moneyFromInput(d)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ratioPercent returns |m| / |base| * 100 rounded to two places.
// base must be non-zero.
func (m Money) ratioPercent(base Money) decimal.Decimal {
	return m.d.Abs().Div(base.d.Abs()).Mul(hundred).Round(2)
}
