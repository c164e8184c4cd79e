package units

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimal place counts used by the contracts this module talks to.
const (
	TokenDecimals uint8 = 6
	ShareDecimals uint8 = 18
	BpsDecimals   uint8 = 4
)

// ErrInvalidAmount is returned for malformed, negative, over-precise or
// out-of-range decimal amounts.
var ErrInvalidAmount = errors.New("units: invalid amount")

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Amount is a non-negative fixed-point integer tagged with its decimal places.
// The zero value is a zero amount with no decimals.
type Amount struct {
	value    *big.Int
	decimals uint8
}

// NewAmount wraps an integer ledger value. Negative values and values wider
// than a uint256 are rejected.
func NewAmount(value *big.Int, decimals uint8) (Amount, error) {
	if value == nil {
		return Amount{}, fmt.Errorf("%w: nil value", ErrInvalidAmount)
	}
	if value.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, value)
	}
	if _, overflow := uint256.FromBig(value); overflow {
		return Amount{}, fmt.Errorf("%w: value exceeds uint256", ErrInvalidAmount)
	}
	return Amount{value: new(big.Int).Set(value), decimals: decimals}, nil
}

// Zero returns a zero amount with the supplied decimals.
func Zero(decimals uint8) Amount {
	return Amount{value: new(big.Int), decimals: decimals}
}

// MustParse is ToFixedPoint for constants. It panics on invalid input.
func MustParse(s string, decimals uint8) Amount {
	a, err := ToFixedPoint(s, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// ToFixedPoint converts a human decimal string into its fixed-point integer
// form. Inputs with more fractional digits than decimals are rejected rather
// than truncated; use TruncateToFixedPoint when truncation is intended.
func ToFixedPoint(s string, decimals uint8) (Amount, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return Amount{}, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidAmount, s, decimals)
	}
	return NewAmount(scaled.BigInt(), decimals)
}

// TruncateToFixedPoint converts like ToFixedPoint but drops fractional digits
// beyond decimals, rounding toward zero.
func TruncateToFixedPoint(s string, decimals uint8) (Amount, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return Amount{}, err
	}
	scaled := d.Shift(int32(decimals)).Truncate(0)
	return NewAmount(scaled.BigInt(), decimals)
}

// FromFixedPoint renders a fixed-point integer as a canonical decimal string:
// no leading zeros and no trailing fractional zeros.
func FromFixedPoint(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// FormatFixed renders a fixed-point integer with exactly places fractional
// digits, truncating any extra precision. Intended for display only.
func FormatFixed(value *big.Int, decimals uint8, places int32) string {
	if value == nil {
		value = new(big.Int)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).Truncate(places).StringFixed(places)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if !decimalPattern.MatchString(trimmed) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return d, nil
}

// Int returns a copy of the underlying integer value.
func (a Amount) Int() *big.Int {
	if a.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.value)
}

// Decimals reports the implied decimal places.
func (a Amount) Decimals() uint8 { return a.decimals }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.value == nil || a.value.Sign() == 0 }

// String renders the amount in canonical decimal form.
func (a Amount) String() string { return FromFixedPoint(a.value, a.decimals) }

// Rescale converts the amount to a different decimal count. Scaling down
// fails with ErrInvalidAmount when it would drop non-zero digits.
func (a Amount) Rescale(decimals uint8) (Amount, error) {
	v := a.Int()
	switch {
	case decimals == a.decimals:
		return Amount{value: v, decimals: decimals}, nil
	case decimals > a.decimals:
		v.Mul(v, pow10(decimals-a.decimals))
		return NewAmount(v, decimals)
	default:
		q, r := new(big.Int).QuoRem(v, pow10(a.decimals-decimals), new(big.Int))
		if r.Sign() != 0 {
			return Amount{}, fmt.Errorf("%w: %s does not fit %d decimals", ErrInvalidAmount, a, decimals)
		}
		return Amount{value: q, decimals: decimals}, nil
	}
}

// Cmp compares two amounts after reconciling their decimal places.
func (a Amount) Cmp(b Amount) int {
	x, y := reconcile(a, b)
	return x.Cmp(y)
}

// Add returns a+b expressed in the larger of the two decimal counts.
func (a Amount) Add(b Amount) Amount {
	x, y := reconcile(a, b)
	return Amount{value: x.Add(x, y), decimals: maxDecimals(a, b)}
}

// Sub returns a-b expressed in the larger of the two decimal counts. A
// negative result is an ErrInvalidAmount.
func (a Amount) Sub(b Amount) (Amount, error) {
	x, y := reconcile(a, b)
	if x.Cmp(y) < 0 {
		return Amount{}, fmt.Errorf("%w: %s - %s is negative", ErrInvalidAmount, a, b)
	}
	return Amount{value: x.Sub(x, y), decimals: maxDecimals(a, b)}, nil
}

func reconcile(a, b Amount) (*big.Int, *big.Int) {
	x, y := a.Int(), b.Int()
	switch {
	case a.decimals < b.decimals:
		x.Mul(x, pow10(b.decimals-a.decimals))
	case b.decimals < a.decimals:
		y.Mul(y, pow10(a.decimals-b.decimals))
	}
	return x, y
}

func maxDecimals(a, b Amount) uint8 {
	if a.decimals > b.decimals {
		return a.decimals
	}
	return b.decimals
}

// Pow10 returns 10^n as a new big integer.
func Pow10(n uint8) *big.Int { return pow10(n) }

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
