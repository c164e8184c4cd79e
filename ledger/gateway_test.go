package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"
)

var (
	testChainID = big.NewInt(8453)
	alice       = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newTestGateway(t *testing.T, client EVMClient, opts ...Option) *Gateway {
	t.Helper()
	gw, err := NewGateway(client, testContracts, testChainID, opts...)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestNewGatewayRequiresAllContracts(t *testing.T) {
	partial := testContracts
	partial.PaymentCollector = common.Address{}
	if _, err := NewGateway(newFakeClient(), partial, testChainID); !errors.Is(err, ErrUnknownContract) {
		t.Fatalf("expected ErrUnknownContract, got %v", err)
	}
	if _, err := NewGateway(newFakeClient(), testContracts, nil); err == nil {
		t.Fatalf("expected error for missing chain id")
	}
}

func TestReadDecodesReturnValues(t *testing.T) {
	client := newFakeClient()
	client.respond(Token, "balanceOf", big.NewInt(42_000_000))
	gw := newTestGateway(t, client)

	out, err := gw.Read(context.Background(), Token, "balanceOf", alice)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one output, got %d", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || v.Int64() != 42_000_000 {
		t.Fatalf("unexpected output %#v", out[0])
	}
	if len(client.calls) != 1 || *client.calls[0].To != testContracts.Token {
		t.Fatalf("read went to the wrong contract: %+v", client.calls)
	}
}

func TestReadAtPinsBlock(t *testing.T) {
	client := newFakeClient()
	client.respond(Vault, "totalAssets", big.NewInt(7))
	client.head = 250
	gw := newTestGateway(t, client)

	head, err := gw.BlockNumber(context.Background())
	if err != nil || head != 250 {
		t.Fatalf("block number: %d, %v", head, err)
	}
	if _, err := gw.ReadAt(context.Background(), new(big.Int).SetUint64(head), Vault, "totalAssets"); err != nil {
		t.Fatalf("read at: %v", err)
	}
	if _, err := gw.Read(context.Background(), Vault, "totalAssets"); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(client.blocks) != 2 || client.blocks[0] == nil || client.blocks[0].Uint64() != 250 || client.blocks[1] != nil {
		t.Fatalf("unexpected block selectors %v", client.blocks)
	}
}

func TestReadWrapsRPCFailure(t *testing.T) {
	client := newFakeClient()
	cause := errors.New("connection refused")
	client.callErr = cause
	gw := newTestGateway(t, client)

	_, err := gw.Read(context.Background(), Vault, "totalAssets")
	if !errors.Is(err, ErrRead) || !errors.Is(err, cause) {
		t.Fatalf("expected ErrRead wrapping cause, got %v", err)
	}
}

func TestReadRejectsUndecodableData(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(t, client)

	if _, err := gw.Read(context.Background(), Vault, "totalSupply"); !errors.Is(err, ErrDecode) {
		t.Fatalf("empty return data: expected ErrDecode, got %v", err)
	}

	parsed, _ := ABI(Vault)
	client.callData[key(testContracts.Vault, parsed.Methods["totalSupply"].ID)] = []byte{0x01, 0x02}
	if _, err := gw.Read(context.Background(), Vault, "totalSupply"); !errors.Is(err, ErrDecode) {
		t.Fatalf("short return data: expected ErrDecode, got %v", err)
	}
}

func TestReadRespectsLimiterContext(t *testing.T) {
	client := newFakeClient()
	client.respond(Token, "decimals", uint8(6))
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	gw := newTestGateway(t, client, WithReadLimiter(limiter))

	if _, err := gw.Read(context.Background(), Token, "decimals"); err != nil {
		t.Fatalf("first read should use the burst: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gw.Read(ctx, Token, "decimals"); !errors.Is(err, ErrRead) {
		t.Fatalf("throttled read should fail with ErrRead, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("throttled read must not reach the node, calls=%d", len(client.calls))
	}
}

func TestWriteRequiresSigningIdentity(t *testing.T) {
	gw := newTestGateway(t, newFakeClient())
	if _, err := gw.Write(context.Background(), Token, "approve", alice, big.NewInt(1)); !errors.Is(err, ErrNoSigningIdentity) {
		t.Fatalf("expected ErrNoSigningIdentity without session, got %v", err)
	}

	signer := &fakeSigner{addr: alice, hash: common.HexToHash("0x01")}
	session, err := OpenSession(signer)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	bound := gw.WithSession(session)
	session.Close()
	if _, err := bound.Write(context.Background(), Token, "approve", alice, big.NewInt(1)); !errors.Is(err, ErrNoSigningIdentity) {
		t.Fatalf("expected ErrNoSigningIdentity after close, got %v", err)
	}
	if len(signer.sent) != 0 {
		t.Fatalf("closed session must not submit")
	}
	if gw.Session() != nil {
		t.Fatalf("WithSession must not mutate the receiver")
	}
}

func TestAccountFollowsSession(t *testing.T) {
	if _, err := OpenSession(nil); !errors.Is(err, ErrNoSigningIdentity) {
		t.Fatalf("expected ErrNoSigningIdentity for nil signer, got %v", err)
	}
	gw := newTestGateway(t, newFakeClient())
	if _, err := gw.Account(); !errors.Is(err, ErrNoSigningIdentity) {
		t.Fatalf("expected ErrNoSigningIdentity, got %v", err)
	}
	session, _ := OpenSession(&fakeSigner{addr: alice})
	bound := gw.WithSession(session)
	got, err := bound.Account()
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if got != alice {
		t.Fatalf("expected %s, got %s", alice.Hex(), got.Hex())
	}
	session.Close()
	if _, err := bound.Account(); !errors.Is(err, ErrNoSigningIdentity) {
		t.Fatalf("expected ErrNoSigningIdentity after close, got %v", err)
	}
}

func TestWriteSubmitsPackedCall(t *testing.T) {
	hash := common.HexToHash("0xabc123")
	signer := &fakeSigner{addr: alice, hash: hash}
	session, _ := OpenSession(signer)
	submittedAt := time.Unix(1_700_000_000, 0)
	gw := newTestGateway(t, newFakeClient(), WithClock(func() time.Time { return submittedAt })).WithSession(session)

	amount := big.NewInt(100_000_000)
	handle, err := gw.Write(context.Background(), Token, "approve", testContracts.Vault, amount)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if handle.Hash != hash || handle.Contract != Token || handle.Method != "approve" || !handle.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("unexpected handle %+v", handle)
	}
	if len(signer.networks) != 1 || signer.networks[0].Cmp(testChainID) != 0 {
		t.Fatalf("network was not enforced before submission: %v", signer.networks)
	}
	if len(signer.sent) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(signer.sent))
	}
	req := signer.sent[0]
	if req.To != testContracts.Token || req.From != alice || req.Value.Sign() != 0 {
		t.Fatalf("unexpected request %+v", req)
	}
	parsed, _ := ABI(Token)
	method := parsed.Methods["approve"]
	args, err := method.Inputs.Unpack(req.Data[4:])
	if err != nil {
		t.Fatalf("unpack calldata: %v", err)
	}
	if args[0].(common.Address) != testContracts.Vault || args[1].(*big.Int).Cmp(amount) != 0 {
		t.Fatalf("unexpected calldata args %v", args)
	}
}

func TestWriteFailureClassification(t *testing.T) {
	cases := []struct {
		name   string
		signer *fakeSigner
		want   error
		sends  int
	}{
		{
			name:   "wrong network",
			signer: &fakeSigner{addr: alice, networkErr: fmt.Errorf("%w: node serves chain 1", ErrWrongNetwork)},
			want:   ErrWrongNetwork,
		},
		{
			name:   "chain id query fails",
			signer: &fakeSigner{addr: alice, networkErr: fmt.Errorf("query chain id: %w", syscall.ECONNREFUSED)},
			want:   ErrSubmission,
		},
		{
			name:   "user rejected",
			signer: &fakeSigner{addr: alice, sendErr: errors.Join(ErrUserRejected, errors.New("denied in wallet"))},
			want:   ErrUserRejected,
		},
		{
			name:   "submission error",
			signer: &fakeSigner{addr: alice, sendErr: errors.New("nonce too low")},
			want:   ErrSubmission,
		},
		{
			name:   "empty hash",
			signer: &fakeSigner{addr: alice},
			want:   ErrSubmission,
			sends:  1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session, _ := OpenSession(tc.signer)
			gw := newTestGateway(t, newFakeClient()).WithSession(session)
			_, err := gw.Write(context.Background(), Vault, "deposit", big.NewInt(1), alice)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want != ErrWrongNetwork && errors.Is(err, ErrWrongNetwork) {
				t.Fatalf("only a real mismatch may report ErrWrongNetwork, got %v", err)
			}
			if len(tc.signer.sent) != tc.sends {
				t.Fatalf("expected %d sends, got %d", tc.sends, len(tc.signer.sent))
			}
		})
	}
}

func TestWriteCanceledDuringNetworkCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signer := &fakeSigner{addr: alice, hash: common.HexToHash("0x01")}
	signer.onNetwork = cancel
	signer.networkErr = fmt.Errorf("query chain id: %w", context.Canceled)
	session, _ := OpenSession(signer)
	gw := newTestGateway(t, newFakeClient()).WithSession(session)

	_, err := gw.Write(ctx, Vault, "deposit", big.NewInt(1), alice)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrWrongNetwork) || errors.Is(err, ErrSubmission) {
		t.Fatalf("caller abort must not be reported as a ledger failure, got %v", err)
	}
	if len(signer.sent) != 0 {
		t.Fatalf("nothing may be submitted after cancellation, sent=%d", len(signer.sent))
	}
}

func TestAwaitConfirmationPollsUntilMined(t *testing.T) {
	client := newFakeClient()
	client.receipts = []*gethtypes.Receipt{nil, nil, successReceipt(10)}
	gw := newTestGateway(t, client, WithConfirmPolicy(ConfirmPolicy{
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
	}))

	receipt, err := gw.AwaitConfirmation(context.Background(), TxHandle{Hash: common.HexToHash("0xfeed")})
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !receipt.Succeeded || receipt.BlockNumber != 10 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if client.receiptCalls != 3 {
		t.Fatalf("expected 3 receipt polls, got %d", client.receiptCalls)
	}
}

func TestAwaitConfirmationWaitsForDepth(t *testing.T) {
	client := newFakeClient()
	client.receipts = []*gethtypes.Receipt{successReceipt(100)}
	client.head = 100
	client.headStep = 1
	gw := newTestGateway(t, client, WithConfirmPolicy(ConfirmPolicy{
		Timeout:         time.Second,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		Blocks:          3,
	}))

	if _, err := gw.AwaitConfirmation(context.Background(), TxHandle{Hash: common.HexToHash("0xfeed")}); err != nil {
		t.Fatalf("await: %v", err)
	}
	if client.receiptCalls != 3 {
		t.Fatalf("expected confirmation after head reached 102, polls=%d", client.receiptCalls)
	}
}

func TestAwaitConfirmationTimesOut(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(t, client, WithConfirmPolicy(ConfirmPolicy{
		Timeout:         30 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}))

	start := time.Now()
	_, err := gw.AwaitConfirmation(context.Background(), TxHandle{Hash: common.HexToHash("0xfeed")})
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait was not bounded: %s", elapsed)
	}
}

func TestAwaitConfirmationCallerCancel(t *testing.T) {
	client := newFakeClient()
	gw := newTestGateway(t, client)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gw.AwaitConfirmation(ctx, TxHandle{Hash: common.HexToHash("0xfeed")})
	if !errors.Is(err, ErrTimedOut) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrTimedOut wrapping context.Canceled, got %v", err)
	}
}

func TestAwaitConfirmationReverted(t *testing.T) {
	client := newFakeClient()
	reverted := successReceipt(12)
	reverted.Status = gethtypes.ReceiptStatusFailed
	client.receipts = []*gethtypes.Receipt{reverted}
	gw := newTestGateway(t, client)

	receipt, err := gw.AwaitConfirmation(context.Background(), TxHandle{Hash: common.HexToHash("0xfeed")})
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected ErrReverted, got %v", err)
	}
	if receipt == nil || receipt.Succeeded {
		t.Fatalf("reverted receipt should be returned, got %+v", receipt)
	}
}
