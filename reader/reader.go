// Package reader exposes typed, uncached queries over the ledger gateway.
// Every call issues a fresh read.
package reader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendvault/finance"
	"lendvault/ledger"
	"lendvault/units"
)

// ErrLoanNotFound means the registry holds no loan under the requested id.
// It is distinct from a loan whose principal is zero.
var ErrLoanNotFound = errors.New("reader: loan not found")

// apyDecimals is the implied scale of the vault's currentAPY: the contract
// reports basis points, so 10^4 is 100%.
const apyDecimals = units.BpsDecimals

// Caller is the read half of the ledger gateway. *ledger.Gateway satisfies
// it.
type Caller interface {
	Read(ctx context.Context, id ledger.ContractID, method string, args ...any) ([]any, error)
	ReadAt(ctx context.Context, block *big.Int, id ledger.ContractID, method string, args ...any) ([]any, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reader queries balances, allowances, vault statistics and loan records.
type Reader struct {
	gw  Caller
	now func() time.Time
}

// New constructs a Reader over gw.
func New(gw Caller) *Reader {
	return &Reader{gw: gw, now: time.Now}
}

// TokenBalance returns the token balance of owner.
func (r *Reader) TokenBalance(ctx context.Context, owner common.Address) (units.Amount, error) {
	return r.amount(ctx, units.TokenDecimals, ledger.Token, "balanceOf", owner)
}

// VaultShareBalance returns the vault share balance of owner.
func (r *Reader) VaultShareBalance(ctx context.Context, owner common.Address) (units.Amount, error) {
	return r.amount(ctx, units.ShareDecimals, ledger.Vault, "balanceOf", owner)
}

// Allowance returns how many of owner's tokens spender may move.
func (r *Reader) Allowance(ctx context.Context, owner, spender common.Address) (units.Amount, error) {
	return r.amount(ctx, units.TokenDecimals, ledger.Token, "allowance", owner, spender)
}

// PreviewWithdraw returns the shares the vault would burn to release assets.
func (r *Reader) PreviewWithdraw(ctx context.Context, assets units.Amount) (units.Amount, error) {
	return r.amount(ctx, units.ShareDecimals, ledger.Vault, "previewWithdraw", assets.Int())
}

// CollectorFeeBps returns the payment collector's fee rate in basis points.
func (r *Reader) CollectorFeeBps(ctx context.Context) (uint64, error) {
	out, err := r.gw.Read(ctx, ledger.PaymentCollector, "feeBps")
	if err != nil {
		return 0, err
	}
	return decodeUint64(out, 0, "feeBps")
}

// VaultSnapshot reads the vault's assets, supply, value per whole share and
// current yield. All four reads are pinned to the same block.
func (r *Reader) VaultSnapshot(ctx context.Context) (finance.VaultSnapshot, error) {
	head, err := r.gw.BlockNumber(ctx)
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	block := new(big.Int).SetUint64(head)
	assets, err := r.amountAt(ctx, block, units.TokenDecimals, ledger.Vault, "totalAssets")
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	supply, err := r.amountAt(ctx, block, units.ShareDecimals, ledger.Vault, "totalSupply")
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	oneShare := units.Pow10(units.ShareDecimals)
	vps, err := r.amountAt(ctx, block, units.TokenDecimals, ledger.Vault, "convertToAssets", oneShare)
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	out, err := r.gw.ReadAt(ctx, block, ledger.Vault, "currentAPY")
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	apy, err := decodeBig(out, 0, "currentAPY")
	if err != nil {
		return finance.VaultSnapshot{}, err
	}
	return finance.VaultSnapshot{
		TotalAssets:   assets,
		TotalSupply:   supply,
		ValuePerShare: vps,
		APYBps:        finance.NormalizeYield(apy, apyDecimals),
		Block:         head,
		ReadAt:        r.now(),
	}, nil
}

// LoanRecord reads the registry entry for id. A record with a zero borrower
// is reported as ErrLoanNotFound.
func (r *Reader) LoanRecord(ctx context.Context, id uint64) (finance.LoanRecord, error) {
	out, err := r.gw.Read(ctx, ledger.LoanRegistry, "loans", new(big.Int).SetUint64(id))
	if err != nil {
		return finance.LoanRecord{}, err
	}
	if len(out) != 7 {
		return finance.LoanRecord{}, fmt.Errorf("%w: loans returned %d fields", ledger.ErrDecode, len(out))
	}
	borrower, ok := out[0].(common.Address)
	if !ok {
		return finance.LoanRecord{}, fmt.Errorf("%w: loans.borrower is %T", ledger.ErrDecode, out[0])
	}
	if borrower == (common.Address{}) {
		return finance.LoanRecord{}, fmt.Errorf("%w: %d", ErrLoanNotFound, id)
	}
	principal, err := decodeAmount(out, 1, "principal", units.TokenDecimals)
	if err != nil {
		return finance.LoanRecord{}, err
	}
	rate, err := decodeUint64(out, 2, "interestRateBps")
	if err != nil {
		return finance.LoanRecord{}, err
	}
	term, err := decodeUint64(out, 3, "termSeconds")
	if err != nil {
		return finance.LoanRecord{}, err
	}
	start, err := decodeUint64(out, 4, "startTime")
	if err != nil {
		return finance.LoanRecord{}, err
	}
	paid, err := decodeAmount(out, 5, "amountPaid", units.TokenDecimals)
	if err != nil {
		return finance.LoanRecord{}, err
	}
	active, ok := out[6].(bool)
	if !ok {
		return finance.LoanRecord{}, fmt.Errorf("%w: loans.isActive is %T", ledger.ErrDecode, out[6])
	}
	return finance.LoanRecord{
		ID:              id,
		Borrower:        borrower,
		Principal:       principal,
		InterestRateBps: rate,
		TermSeconds:     term,
		StartTime:       start,
		AmountPaid:      paid,
		Active:          active,
	}, nil
}

func (r *Reader) amount(ctx context.Context, decimals uint8, id ledger.ContractID, method string, args ...any) (units.Amount, error) {
	return r.amountAt(ctx, nil, decimals, id, method, args...)
}

func (r *Reader) amountAt(ctx context.Context, block *big.Int, decimals uint8, id ledger.ContractID, method string, args ...any) (units.Amount, error) {
	out, err := r.gw.ReadAt(ctx, block, id, method, args...)
	if err != nil {
		return units.Amount{}, err
	}
	return decodeAmount(out, 0, method, decimals)
}

func decodeBig(out []any, i int, field string) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("%w: %s missing", ledger.ErrDecode, field)
	}
	v, ok := out[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: %s is %T", ledger.ErrDecode, field, out[i])
	}
	return v, nil
}

func decodeAmount(out []any, i int, field string, decimals uint8) (units.Amount, error) {
	v, err := decodeBig(out, i, field)
	if err != nil {
		return units.Amount{}, err
	}
	a, err := units.NewAmount(v, decimals)
	if err != nil {
		return units.Amount{}, fmt.Errorf("%w: %s: %w", ledger.ErrDecode, field, err)
	}
	return a, nil
}

func decodeUint64(out []any, i int, field string) (uint64, error) {
	v, err := decodeBig(out, i, field)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s overflows uint64", ledger.ErrDecode, field)
	}
	return v.Uint64(), nil
}
