package finance

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendvault/units"
)

// LoanRecord mirrors the loan registry's per-loan struct. Amounts are token
// units (6 decimals); rates are basis points.
type LoanRecord struct {
	ID              uint64
	Borrower        common.Address
	Principal       units.Amount
	InterestRateBps uint64
	TermSeconds     uint64
	StartTime       uint64
	AmountPaid      units.Amount
	Active          bool
}

// VaultSnapshot is a point-in-time read of the vault's accounting. It is
// stale as soon as it is returned.
type VaultSnapshot struct {
	// TotalAssets is denominated in token units.
	TotalAssets units.Amount
	// TotalSupply is denominated in vault shares.
	TotalSupply units.Amount
	// ValuePerShare is the token value of one whole share.
	ValuePerShare units.Amount
	APYBps        uint64
	// Block is the height every field was read at.
	Block  uint64
	ReadAt time.Time
}

// Fee is the split of a gross payment into collector fee and net amount.
type Fee struct {
	Gross units.Amount
	Fee   units.Amount
	Net   units.Amount
	Bps   uint64
}
