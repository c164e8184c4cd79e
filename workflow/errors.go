package workflow

import (
	"context"
	"errors"
	"fmt"

	"lendvault/ledger"
	"lendvault/reader"
	"lendvault/units"
)

var (
	ErrInsufficientBalance = errors.New("workflow: insufficient balance")
	ErrInsufficientShares  = errors.New("workflow: insufficient shares")
	ErrLoanNotActive       = errors.New("workflow: loan not active")
	ErrOverpayment         = errors.New("workflow: payment exceeds remaining balance")
)

// Reason is the stable, machine-readable cause of a failed workflow.
type Reason string

const (
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonInsufficientShares  Reason = "insufficient_shares"
	ReasonLoanNotActive       Reason = "loan_not_active"
	ReasonLoanNotFound        Reason = "loan_not_found"
	ReasonOverpayment         Reason = "overpayment"
	ReasonReadError           Reason = "read_error"
	ReasonDecodeError         Reason = "decode_error"
	ReasonWrongNetwork        Reason = "wrong_network"
	ReasonNoSigningIdentity   Reason = "no_signing_identity"
	ReasonUserRejected        Reason = "user_rejected"
	ReasonSubmissionError     Reason = "submission_error"
	ReasonTimedOut            Reason = "timed_out"
	ReasonCanceled            Reason = "canceled"
	ReasonInternal            Reason = "internal"
)

// Retryable reports whether re-running the whole workflow is safe without
// first re-checking remote state. Timeouts are not: the submitted
// transaction may still land.
func (r Reason) Retryable() bool {
	switch r {
	case ReasonReadError, ReasonDecodeError, ReasonSubmissionError, ReasonCanceled:
		return true
	default:
		return false
	}
}

// Failure is the terminal error of a workflow. Step is empty when the
// workflow failed before submitting anything.
type Failure struct {
	Reason Reason
	Step   StepKind
	Err    error
}

func (f *Failure) Error() string {
	if f.Step != "" {
		return fmt.Sprintf("workflow: %s during %s: %v", f.Reason, f.Step, f.Err)
	}
	return fmt.Sprintf("workflow: %s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func fail(step StepKind, err error) *Failure {
	var existing *Failure
	if errors.As(err, &existing) {
		return existing
	}
	return &Failure{Reason: reasonFor(err), Step: step, Err: err}
}

func reasonFor(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, units.ErrInvalidAmount):
		return ReasonInvalidAmount
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrInsufficientShares):
		return ReasonInsufficientShares
	case errors.Is(err, ErrLoanNotActive):
		return ReasonLoanNotActive
	case errors.Is(err, reader.ErrLoanNotFound):
		return ReasonLoanNotFound
	case errors.Is(err, ErrOverpayment):
		return ReasonOverpayment
	case errors.Is(err, ledger.ErrNoSigningIdentity):
		return ReasonNoSigningIdentity
	case errors.Is(err, ledger.ErrWrongNetwork):
		return ReasonWrongNetwork
	case errors.Is(err, ledger.ErrUserRejected):
		return ReasonUserRejected
	case errors.Is(err, ledger.ErrTimedOut):
		return ReasonTimedOut
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	case errors.Is(err, ledger.ErrSubmission), errors.Is(err, ledger.ErrReverted):
		return ReasonSubmissionError
	case errors.Is(err, ledger.ErrDecode):
		return ReasonDecodeError
	case errors.Is(err, ledger.ErrRead):
		return ReasonReadError
	default:
		return ReasonInternal
	}
}
