package ledger

import "errors"

var (
	// ErrRead wraps RPC failures on side-effect-free calls; reads may be retried.
	ErrRead = errors.New("ledger: read failed")
	// ErrDecode means a returned value did not match the expected ABI shape.
	ErrDecode = errors.New("ledger: decode failed")
	// ErrWrongNetwork means the signer is bound to another chain and could not
	// be switched.
	ErrWrongNetwork = errors.New("ledger: wrong network")
	// ErrNoSigningIdentity means no session with a signer is open.
	ErrNoSigningIdentity = errors.New("ledger: no signing identity")
	// ErrUserRejected means the signer declined the transaction.
	ErrUserRejected = errors.New("ledger: user rejected")
	// ErrSubmission wraps failures before a transaction hash was obtained.
	ErrSubmission = errors.New("ledger: submission failed")
	// ErrTimedOut means the confirmation wait elapsed. The transaction's fate
	// is unknown.
	ErrTimedOut = errors.New("ledger: confirmation timed out")
	// ErrReverted means the transaction was mined but failed execution.
	ErrReverted = errors.New("ledger: transaction reverted")
	// ErrUnknownContract is returned for a ContractID with no binding.
	ErrUnknownContract = errors.New("ledger: unknown contract")
)
