package workflow

import (
	"fmt"

	"lendvault/finance"
	"lendvault/units"
)

func checkAmount(amount units.Amount, decimals uint8) error {
	if amount.Decimals() != decimals {
		return fmt.Errorf("%w: expected %d decimals, got %d", units.ErrInvalidAmount, decimals, amount.Decimals())
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", units.ErrInvalidAmount)
	}
	return nil
}

// CheckDeposit validates a deposit of amount tokens against a freshly read
// token balance. It has no side effects.
func CheckDeposit(amount, balance units.Amount) error {
	if err := checkAmount(amount, units.TokenDecimals); err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amount, balance)
	}
	return nil
}

// CheckRepay validates a payment of amount tokens against a freshly read
// loan record and token balance.
func CheckRepay(loan finance.LoanRecord, amount, balance units.Amount) error {
	if err := checkAmount(amount, units.TokenDecimals); err != nil {
		return err
	}
	if !loan.Active {
		return fmt.Errorf("%w: loan %d", ErrLoanNotActive, loan.ID)
	}
	if amount.Cmp(balance) > 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, amount, balance)
	}
	return nil
}

// CheckShares validates that required shares do not exceed the holder's
// freshly read share balance.
func CheckShares(required, balance units.Amount) error {
	if err := checkAmount(required, units.ShareDecimals); err != nil {
		return err
	}
	if required.Cmp(balance) > 0 {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientShares, required, balance)
	}
	return nil
}
