package finance

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"lendvault/units"
)

var (
	basisPoints = big.NewInt(10_000)
	fullBps     = uint64(10_000)
)

// TotalDue returns principal plus flat interest: principal*(1+rate/10000),
// floored to the token's smallest unit. Interest is a one-time multiplier on
// principal, matching the loan registry's own accounting. A total beyond
// uint256 fails with ErrOverflow.
func TotalDue(loan LoanRecord) (units.Amount, error) {
	principal := loan.Principal.Int()
	interest := new(big.Int).Mul(principal, new(big.Int).SetUint64(loan.InterestRateBps))
	interest.Quo(interest, basisPoints)
	total := new(big.Int).Add(principal, interest)
	return derived(total, loan.Principal.Decimals(), "total due")
}

// RemainingBalance returns max(0, TotalDue - AmountPaid).
func RemainingBalance(loan LoanRecord) (units.Amount, error) {
	total, err := TotalDue(loan)
	if err != nil {
		return units.Amount{}, err
	}
	remaining, err := total.Sub(loan.AmountPaid)
	if err != nil {
		return units.Zero(total.Decimals()), nil
	}
	return remaining, nil
}

// Progress describes how much of a loan's total due has been paid.
type Progress struct {
	// Ratio is AmountPaid/TotalDue without clamping. It is nil when the
	// total due is zero.
	Ratio *big.Rat
	// Bps is the repaid share of the total in basis points, clamped to
	// [0, 10000] for display.
	Bps uint64
	// Overpaid reports AmountPaid > TotalDue.
	Overpaid bool
}

// Percent renders the clamped progress as a percentage string, e.g. "50".
func (p Progress) Percent() string {
	return units.FromFixedPoint(new(big.Int).SetUint64(p.Bps), 2)
}

// RepaymentProgress computes the repaid share of a loan.
func RepaymentProgress(loan LoanRecord) (Progress, error) {
	total, err := TotalDue(loan)
	if err != nil {
		return Progress{}, err
	}
	paid, due := reconcile(loan.AmountPaid, total)
	if due.Sign() == 0 {
		if paid.Sign() > 0 {
			return Progress{Bps: fullBps, Overpaid: true}, nil
		}
		return Progress{}, nil
	}
	progress := Progress{
		Ratio:    new(big.Rat).SetFrac(paid, due),
		Overpaid: paid.Cmp(due) > 0,
	}
	if progress.Overpaid {
		progress.Bps = fullBps
		return progress, nil
	}
	bps := new(big.Int).Mul(paid, basisPoints)
	bps.Quo(bps, due)
	progress.Bps = bps.Uint64()
	return progress, nil
}

// DueAt returns the unix second after which an active loan is overdue.
func DueAt(loan LoanRecord) uint64 {
	if loan.StartTime > math.MaxUint64-loan.TermSeconds {
		return math.MaxUint64
	}
	return loan.StartTime + loan.TermSeconds
}

// IsOverdue reports whether an active loan has passed the end of its term.
func IsOverdue(loan LoanRecord, now time.Time) bool {
	if !loan.Active {
		return false
	}
	unix := now.Unix()
	if unix < 0 {
		return false
	}
	return uint64(unix) > DueAt(loan)
}

func reconcile(a, b units.Amount) (*big.Int, *big.Int) {
	x, y := a.Int(), b.Int()
	switch {
	case a.Decimals() > b.Decimals():
		y.Mul(y, units.Pow10(a.Decimals()-b.Decimals()))
	case b.Decimals() > a.Decimals():
		x.Mul(x, units.Pow10(b.Decimals()-a.Decimals()))
	}
	return x, y
}

func derived(v *big.Int, decimals uint8, what string) (units.Amount, error) {
	a, err := units.NewAmount(v, decimals)
	if err != nil {
		return units.Amount{}, fmt.Errorf("%w: %s %s", ErrOverflow, what, v)
	}
	return a, nil
}
