package workflow

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"lendvault/finance"
	"lendvault/ledger"
	"lendvault/reader"
	"lendvault/units"
)

var (
	signerAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	vaultAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	collectorAddr = common.HexToAddress("0x00000000000000000000000000000000000000a4")
)

func tokens(s string) units.Amount { return units.MustParse(s, units.TokenDecimals) }

func shares(s string) units.Amount { return units.MustParse(s, units.ShareDecimals) }

type write struct {
	contract ledger.ContractID
	method   string
	args     []any
	hash     common.Hash
}

// fakeChain stands in for both the gateway and the reader, logging every
// call in the order it happened.
type fakeChain struct {
	mu sync.Mutex

	noIdentity bool

	tokenBalance units.Amount
	shareBalance units.Amount
	allowance    units.Amount
	preview      units.Amount
	loan         *finance.LoanRecord
	feeBps       uint64
	readErr      error
	// onRead runs after a read is logged, before it answers.
	onRead func(method string)

	writeErr map[string]error
	awaitErr map[string]error

	log    []string
	writes []write
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		tokenBalance: tokens("5000"),
		shareBalance: shares("0"),
		allowance:    tokens("0"),
		preview:      shares("0"),
		feeBps:       250,
		writeErr:     make(map[string]error),
		awaitErr:     make(map[string]error),
	}
}

func (f *fakeChain) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

func (f *fakeChain) entries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

func (f *fakeChain) Account() (common.Address, error) {
	if f.noIdentity {
		return common.Address{}, ledger.ErrNoSigningIdentity
	}
	return signerAddr, nil
}

func (f *fakeChain) Address(id ledger.ContractID) (common.Address, error) {
	switch id {
	case ledger.Vault:
		return vaultAddr, nil
	case ledger.PaymentCollector:
		return collectorAddr, nil
	case ledger.Token:
		return common.HexToAddress("0xa1"), nil
	case ledger.LoanRegistry:
		return common.HexToAddress("0xa3"), nil
	}
	return common.Address{}, ledger.ErrUnknownContract
}

func (f *fakeChain) Write(_ context.Context, id ledger.ContractID, method string, args ...any) (ledger.TxHandle, error) {
	name := fmt.Sprintf("%s.%s", id, method)
	f.record("write " + name)
	if err := f.writeErr[name]; err != nil {
		return ledger.TxHandle{}, err
	}
	f.mu.Lock()
	hash := common.BigToHash(big.NewInt(int64(len(f.writes) + 1)))
	f.writes = append(f.writes, write{contract: id, method: method, args: args, hash: hash})
	f.mu.Unlock()
	return ledger.TxHandle{Hash: hash, Contract: id, Method: method}, nil
}

func (f *fakeChain) AwaitConfirmation(_ context.Context, h ledger.TxHandle) (*ledger.Receipt, error) {
	name := fmt.Sprintf("%s.%s", h.Contract, h.Method)
	f.record("await " + name)
	if err := f.awaitErr[name]; err != nil {
		return nil, err
	}
	return &ledger.Receipt{TxHash: h.Hash, BlockNumber: 10, Succeeded: true}, nil
}

// read logs method and returns the error the gateway would give for it.
func (f *fakeChain) read(ctx context.Context, method string) error {
	f.record("read " + method)
	if f.onRead != nil {
		f.onRead(method)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ledger.ErrRead, method, err)
	}
	return f.readErr
}

func (f *fakeChain) TokenBalance(ctx context.Context, _ common.Address) (units.Amount, error) {
	return f.tokenBalance, f.read(ctx, "balanceOf")
}

func (f *fakeChain) VaultShareBalance(ctx context.Context, _ common.Address) (units.Amount, error) {
	return f.shareBalance, f.read(ctx, "shares")
}

func (f *fakeChain) Allowance(ctx context.Context, _, _ common.Address) (units.Amount, error) {
	return f.allowance, f.read(ctx, "allowance")
}

func (f *fakeChain) PreviewWithdraw(ctx context.Context, _ units.Amount) (units.Amount, error) {
	return f.preview, f.read(ctx, "previewWithdraw")
}

func (f *fakeChain) LoanRecord(ctx context.Context, id uint64) (finance.LoanRecord, error) {
	if err := f.read(ctx, "loan"); err != nil {
		return finance.LoanRecord{}, err
	}
	if f.loan == nil || f.loan.ID != id {
		return finance.LoanRecord{}, fmt.Errorf("%w: id %d", reader.ErrLoanNotFound, id)
	}
	return *f.loan, nil
}

func (f *fakeChain) CollectorFeeBps(ctx context.Context) (uint64, error) {
	return f.feeBps, f.read(ctx, "feeBps")
}
