package units

import (
	"errors"
	"math/big"
	"testing"
)

func TestToFixedPoint(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"0", TokenDecimals, "0"},
		{"1", TokenDecimals, "1000000"},
		{"1000.00", TokenDecimals, "1000000000"},
		{"0.000001", TokenDecimals, "1"},
		{"12.345678", TokenDecimals, "12345678"},
		{" 7.5 ", TokenDecimals, "7500000"},
		{"1.000000000000000000", ShareDecimals, "1000000000000000000"},
		{"15", 2, "1500"},
	}
	for _, tc := range cases {
		got, err := ToFixedPoint(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ToFixedPoint(%q): %v", tc.in, err)
		}
		if got.Int().String() != tc.want {
			t.Fatalf("ToFixedPoint(%q) = %s, want %s", tc.in, got.Int(), tc.want)
		}
		if got.Decimals() != tc.decimals {
			t.Fatalf("ToFixedPoint(%q) decimals = %d, want %d", tc.in, got.Decimals(), tc.decimals)
		}
	}
}

func TestToFixedPointRejectsInvalidInput(t *testing.T) {
	inputs := []string{
		"", " ", "-1", "+1", "1e6", "abc", "1.", ".5", "1,000", "0x10",
		"1.0000001",
		"115792089237316195423570985008687907853269984665640564039457584007913129639936",
	}
	for _, in := range inputs {
		if _, err := ToFixedPoint(in, TokenDecimals); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("ToFixedPoint(%q) error = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestToFixedPointAcceptsTrailingZerosBeyondPrecision(t *testing.T) {
	got, err := ToFixedPoint("2.5000000000", TokenDecimals)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Int().Cmp(big.NewInt(2_500_000)) != 0 {
		t.Fatalf("got %s", got.Int())
	}
}

func TestTruncateToFixedPoint(t *testing.T) {
	got, err := TruncateToFixedPoint("1.23456789", TokenDecimals)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if got.Int().Cmp(big.NewInt(1_234_567)) != 0 {
		t.Fatalf("got %s, want 1234567", got.Int())
	}
	if _, err := TruncateToFixedPoint("-1.5", TokenDecimals); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative input, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"0", "1", "10", "0.1", "0.000001", "1.5", "1000", "1150", "975.25",
		"123456789.123456", "99999999999999999999.999999",
	}
	for _, in := range inputs {
		a, err := ToFixedPoint(in, TokenDecimals)
		if err != nil {
			t.Fatalf("ToFixedPoint(%q): %v", in, err)
		}
		if out := FromFixedPoint(a.Int(), TokenDecimals); out != in {
			t.Fatalf("round trip %q -> %q", in, out)
		}
		if a.String() != in {
			t.Fatalf("String() = %q, want %q", a.String(), in)
		}
	}
}

func TestFormatFixed(t *testing.T) {
	if got := FormatFixed(big.NewInt(1_150_000_000), TokenDecimals, 2); got != "1150.00" {
		t.Fatalf("got %q", got)
	}
	if got := FormatFixed(big.NewInt(1_239), TokenDecimals, 2); got != "0.00" {
		t.Fatalf("display must truncate, got %q", got)
	}
	if got := FormatFixed(nil, TokenDecimals, 2); got != "0.00" {
		t.Fatalf("nil value: got %q", got)
	}
}

func TestAmountArithmeticReconcilesDecimals(t *testing.T) {
	token := MustParse("1.5", TokenDecimals)
	share := MustParse("1.5", ShareDecimals)
	if token.Cmp(share) != 0 {
		t.Fatalf("1.5 at 6 decimals should equal 1.5 at 18 decimals")
	}
	sum := token.Add(share)
	if sum.Decimals() != ShareDecimals || sum.String() != "3" {
		t.Fatalf("sum = %s (%d decimals)", sum, sum.Decimals())
	}
	diff, err := share.Sub(MustParse("0.5", TokenDecimals))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.String() != "1" {
		t.Fatalf("diff = %s", diff)
	}
	if _, err := token.Sub(MustParse("2", TokenDecimals)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative subtraction must fail, got %v", err)
	}
}

func TestRescale(t *testing.T) {
	a := MustParse("2.25", TokenDecimals)
	up, err := a.Rescale(ShareDecimals)
	if err != nil {
		t.Fatalf("rescale up: %v", err)
	}
	if up.Int().String() != "2250000000000000000" {
		t.Fatalf("up = %s", up.Int())
	}
	down, err := up.Rescale(2)
	if err != nil {
		t.Fatalf("rescale down: %v", err)
	}
	if down.Int().Int64() != 225 {
		t.Fatalf("down = %s", down.Int())
	}
	if _, err := a.Rescale(1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("lossy rescale must fail, got %v", err)
	}
}

func TestNewAmountCopiesValue(t *testing.T) {
	v := big.NewInt(10)
	a, err := NewAmount(v, TokenDecimals)
	if err != nil {
		t.Fatalf("new amount: %v", err)
	}
	v.SetInt64(99)
	if a.Int().Int64() != 10 {
		t.Fatalf("amount aliased caller value")
	}
	if _, err := NewAmount(big.NewInt(-1), TokenDecimals); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount accepted")
	}
	if !Zero(TokenDecimals).IsZero() || !(Amount{}).IsZero() {
		t.Fatalf("zero amounts must report IsZero")
	}
}
