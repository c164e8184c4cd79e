package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

var testContracts = Contracts{
	Token:            common.HexToAddress("0x00000000000000000000000000000000000000a1"),
	Vault:            common.HexToAddress("0x00000000000000000000000000000000000000a2"),
	LoanRegistry:     common.HexToAddress("0x00000000000000000000000000000000000000a3"),
	PaymentCollector: common.HexToAddress("0x00000000000000000000000000000000000000a4"),
}

type fakeClient struct {
	mu sync.Mutex

	callData map[string][]byte
	callErr  error
	calls    []ethereum.CallMsg
	blocks   []*big.Int

	receipts     []*gethtypes.Receipt
	receiptErr   error
	receiptCalls int
	head         uint64
	headStep     uint64
}

func newFakeClient() *fakeClient {
	return &fakeClient{callData: make(map[string][]byte)}
}

// respond registers raw return data for a contract method.
func (f *fakeClient) respond(id ContractID, method string, values ...any) {
	parsed, err := ABI(id)
	if err != nil {
		panic(err)
	}
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("unknown method %s", method))
	}
	out, err := m.Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	addr, _ := testContracts.Address(id)
	f.callData[key(addr, m.ID)] = out
}

func key(addr common.Address, selector []byte) string {
	return addr.Hex() + common.Bytes2Hex(selector)
}

func (f *fakeClient) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	f.blocks = append(f.blocks, block)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, nil
	}
	return f.callData[key(*msg.To, msg.Data[:4])], nil
}

// TransactionReceipt pops queued receipts in order; a nil entry means the
// transaction is still pending. The last receipt is sticky.
func (f *fakeClient) TransactionReceipt(_ context.Context, _ common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if len(f.receipts) == 0 {
		return nil, ethereum.NotFound
	}
	r := f.receipts[0]
	if len(f.receipts) > 1 {
		f.receipts = f.receipts[1:]
	}
	if r == nil {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeClient) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head := f.head
	f.head += f.headStep
	return head, nil
}

type fakeSigner struct {
	mu sync.Mutex

	addr       common.Address
	networkErr error
	onNetwork  func()
	sendErr    error
	hash       common.Hash
	networks   []*big.Int
	sent       []TxRequest
}

func (s *fakeSigner) Address() common.Address { return s.addr }

func (s *fakeSigner) EnsureNetwork(_ context.Context, chainID *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks = append(s.networks, chainID)
	if s.onNetwork != nil {
		s.onNetwork()
	}
	return s.networkErr
}

func (s *fakeSigner) SendTransaction(_ context.Context, req TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return common.Hash{}, s.sendErr
	}
	s.sent = append(s.sent, req)
	return s.hash, nil
}

func successReceipt(block int64) *gethtypes.Receipt {
	return &gethtypes.Receipt{
		Status:      gethtypes.ReceiptStatusSuccessful,
		TxHash:      common.HexToHash("0xfeed"),
		BlockNumber: big.NewInt(block),
		GasUsed:     51_000,
	}
}
