package finance

import (
	"errors"
	"fmt"
	"math/big"

	"lendvault/units"
)

var (
	// ErrInvalidBasisPoints is returned for rates outside [0, 10000].
	ErrInvalidBasisPoints = errors.New("finance: basis points out of range")
	// ErrOverflow is returned when a derived amount does not fit the
	// ledger's uint256 range.
	ErrOverflow = errors.New("finance: result exceeds uint256")
)

// ValueOfShares converts a share amount into underlying token terms given the
// token value of one whole share. The result carries valuePerShare's decimals
// and rounds down, as the vault's convertToAssets does. A value beyond
// uint256 fails with ErrOverflow.
func ValueOfShares(shares, valuePerShare units.Amount) (units.Amount, error) {
	value := new(big.Int).Mul(shares.Int(), valuePerShare.Int())
	value.Quo(value, units.Pow10(shares.Decimals()))
	return derived(value, valuePerShare.Decimals(), "share value")
}

// FeeBreakdown splits gross into the collector fee and the net amount using
// integer basis-point math. Fee and Net always sum to Gross exactly.
func FeeBreakdown(gross units.Amount, feeBps uint64) (Fee, error) {
	if feeBps > fullBps {
		return Fee{}, fmt.Errorf("%w: %d", ErrInvalidBasisPoints, feeBps)
	}
	g := gross.Int()
	fee := new(big.Int).Mul(g, new(big.Int).SetUint64(feeBps))
	fee.Quo(fee, basisPoints)
	net := new(big.Int).Sub(g, fee)
	feeAmount, err := derived(fee, gross.Decimals(), "fee")
	if err != nil {
		return Fee{}, err
	}
	netAmount, err := derived(net, gross.Decimals(), "net")
	if err != nil {
		return Fee{}, err
	}
	return Fee{Gross: gross, Fee: feeAmount, Net: netAmount, Bps: feeBps}, nil
}

// NormalizeYield converts a yield fraction expressed with scaleDecimals
// implied decimals (1 == 10^scaleDecimals == 100%) into basis points,
// rounding down.
func NormalizeYield(raw *big.Int, scaleDecimals uint8) uint64 {
	if raw == nil || raw.Sign() <= 0 {
		return 0
	}
	bps := new(big.Int).Mul(raw, basisPoints)
	bps.Quo(bps, units.Pow10(scaleDecimals))
	if !bps.IsUint64() {
		return ^uint64(0)
	}
	return bps.Uint64()
}

// BpsPercent renders basis points as a percentage string ("1500" -> "15").
func BpsPercent(bps uint64) string {
	return units.FromFixedPoint(new(big.Int).SetUint64(bps), 2)
}
