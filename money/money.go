/*
Package money implements fixed-point ledger currency arithmetic.

PURPOSE:
  Every amount that crosses the ledger boundary is an integer number of
  ledger-native units (wei). Humans read and type decimal strings ("1.5").
  This package is the only place where the two representations meet.

KEY CONCEPTS:
  - Amount: an immutable, non-negative integer quantity of ledger units
  - ToLedgerUnits / ToDecimalString: exact, bijective conversions
  - FormatDisplay: truncating presentation format (NEVER fed back into a tx)
  - PayoutAfterDeductible: max(0, claim - deductible), done in integers

PRECISION:
  Conversions go through shopspring/decimal, never float64. A decimal string
  with more fractional digits than the ledger supports is rejected rather
  than rounded, so ToLedgerUnits(ToDecimalString(v)) == v for every v.

USAGE:
  amount, err := money.ToLedgerUnits("1.5")   // 1500000000000000000 wei
  s := money.ToDecimalString(amount)           // "1.5"
  shown := money.FormatDisplay(amount, 2)      // "1.50"

SEE ALSO:
  - insurance/preflight.go: payout arithmetic
  - insurance/decode.go: converts raw ledger integers into Amounts
*/
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of one display unit (ether).
const Decimals = 18

var (
	// ErrInvalidAmount is returned when a decimal string cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNegativeAmount is returned for amounts below zero.
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrTooPrecise is returned when a decimal string has more fractional
	// digits than the ledger can represent.
	ErrTooPrecise = errors.New("amount has more than 18 fractional digits")
)

// =============================================================================
// AMOUNT - Integer quantity of ledger units
// =============================================================================

// Amount is a non-negative integer number of ledger units. The zero value is 0.
// Amount never exposes its internal big.Int for mutation.
type Amount struct {
	v *big.Int
}

// Zero returns the zero amount.
func Zero() Amount { return Amount{} }

// FromBig copies v into an Amount. Negative values are clamped to zero by
// callers that must not see them; FromBig itself keeps the sign so decoding
// can detect corruption.
func FromBig(v *big.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// FromUint64 builds an amount from a raw unit count.
func FromUint64(v uint64) Amount { return Amount{v: new(big.Int).SetUint64(v)} }

// MustParse is ToLedgerUnits for literals in tests and seed data. It panics
// on malformed input.
func MustParse(s string) Amount {
	a, err := ToLedgerUnits(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the underlying unit count.
func (a Amount) BigInt() *big.Int { return new(big.Int).Set(a.big()) }

func (a Amount) Add(b Amount) Amount       { return Amount{v: new(big.Int).Add(a.big(), b.big())} }
func (a Amount) Sub(b Amount) Amount       { return Amount{v: new(big.Int).Sub(a.big(), b.big())} }
func (a Amount) Cmp(b Amount) int          { return a.big().Cmp(b.big()) }
func (a Amount) Equal(b Amount) bool       { return a.Cmp(b) == 0 }
func (a Amount) IsZero() bool              { return a.big().Sign() == 0 }
func (a Amount) IsPositive() bool          { return a.big().Sign() > 0 }
func (a Amount) IsNegative() bool          { return a.big().Sign() < 0 }
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }
func (a Amount) LessThan(b Amount) bool    { return a.Cmp(b) < 0 }

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a.LessThan(b) {
		return b
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.GreaterThan(b) {
		return b
	}
	return a
}

// String returns the raw unit count, e.g. "1500000000000000000".
func (a Amount) String() string { return a.big().String() }

// MarshalJSON encodes the amount as a quoted decimal string in display units.
// The encoding is exact and parses back with UnmarshalJSON.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToDecimalString(a))
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(b))
	}
	parsed, err := ToLedgerUnits(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// ToLedgerUnits converts a decimal string in display units into ledger units.
// The conversion is exact: inputs that would need rounding are rejected.
func ToLedgerUnits(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, ErrNegativeAmount
	}
	units := d.Shift(Decimals)
	if !units.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %q", ErrTooPrecise, s)
	}
	return Amount{v: units.BigInt()}, nil
}

// ToDecimalString renders ledger units as a canonical decimal string in
// display units with no trailing zeros ("1.5", "0", "0.000000000000000001").
func ToDecimalString(a Amount) string {
	return decimal.NewFromBigInt(a.big(), -Decimals).String()
}

// FormatDisplay truncates (never rounds up) to precision fractional digits
// for presentation. The result is lossy and must not be used as tx input.
func FormatDisplay(a Amount, precision int32) string {
	if precision < 0 {
		precision = 0
	}
	d := decimal.NewFromBigInt(a.big(), -Decimals)
	return d.Truncate(precision).StringFixed(precision)
}

// PayoutAfterDeductible returns max(0, claimed - deductible).
func PayoutAfterDeductible(claimed, deductible Amount) Amount {
	return Max(Zero(), claimed.Sub(deductible))
}
