package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"lendvault/observability"
)

// EVMClient is the subset of the Ethereum JSON-RPC API used by the gateway.
// *ethclient.Client satisfies it.
type EVMClient interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxHandle identifies a transaction accepted for broadcast. It says nothing
// about confirmation.
type TxHandle struct {
	Hash        common.Hash
	Contract    ContractID
	Method      string
	SubmittedAt time.Time
}

// Gateway is a typed read/write façade over the remote ledger. A Gateway is
// safe for concurrent use; writes require a session bound with WithSession.
type Gateway struct {
	client   EVMClient
	bindings map[ContractID]binding
	chainID  *big.Int
	session  *Session
	limiter  *rate.Limiter
	confirm  ConfirmPolicy
	metrics  *observability.LedgerMetrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Gateway.
type Option func(*Gateway)

// WithReadLimiter throttles read calls against the node.
func WithReadLimiter(l *rate.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithConfirmPolicy overrides the confirmation wait policy.
func WithConfirmPolicy(p ConfirmPolicy) Option {
	return func(g *Gateway) { g.confirm = p.normalised() }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics overrides the metrics registry.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock sets the function used for submission timestamps.
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) { g.now = clock }
}

// NewGateway binds the four contracts at the configured addresses on chainID.
func NewGateway(client EVMClient, contracts Contracts, chainID *big.Int, opts ...Option) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("ledger: evm client required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("ledger: chain id required")
	}
	abis, err := loadABIs()
	if err != nil {
		return nil, err
	}
	bindings := make(map[ContractID]binding, len(abis))
	for id, parsed := range abis {
		addr, err := contracts.Address(id)
		if err != nil {
			return nil, err
		}
		bindings[id] = binding{address: addr, abi: parsed}
	}
	g := &Gateway{
		client:   client,
		bindings: bindings,
		chainID:  new(big.Int).Set(chainID),
		confirm:  DefaultConfirmPolicy(),
		metrics:  observability.Ledger(),
		tracer:   otel.Tracer("lendvault/ledger"),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observability.Ledger()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// WithSession returns a copy of the gateway whose writes are signed by the
// session's signer. The receiver is left untouched.
func (g *Gateway) WithSession(s *Session) *Gateway {
	clone := *g
	clone.session = s
	return &clone
}

// Session returns the bound session, which may be nil.
func (g *Gateway) Session() *Session { return g.session }

// Account returns the address of the bound session's signer.
func (g *Gateway) Account() (common.Address, error) {
	signer, err := g.session.Signer()
	if err != nil {
		return common.Address{}, err
	}
	return signer.Address(), nil
}

// ChainID returns the network the gateway enforces for writes.
func (g *Gateway) ChainID() *big.Int { return new(big.Int).Set(g.chainID) }

// Address returns the deployed address of a bound contract.
func (g *Gateway) Address(id ContractID) (common.Address, error) {
	b, err := g.binding(id)
	if err != nil {
		return common.Address{}, err
	}
	return b.address, nil
}

func (g *Gateway) binding(id ContractID) (binding, error) {
	b, ok := g.bindings[id]
	if !ok {
		return binding{}, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return b, nil
}

// Read performs an eth_call against the latest block and decodes the result
// against the method's ABI outputs. Reads have no side effects.
func (g *Gateway) Read(ctx context.Context, id ContractID, method string, args ...any) ([]any, error) {
	return g.ReadAt(ctx, nil, id, method, args...)
}

// ReadAt is Read pinned to block. A nil block reads the latest state.
func (g *Gateway) ReadAt(ctx context.Context, block *big.Int, id ContractID, method string, args ...any) ([]any, error) {
	start := g.now()
	out, err := g.read(ctx, block, id, method, args...)
	g.metrics.ObserveRead(string(id), method, readOutcome(err), g.now().Sub(start))
	return out, err
}

// BlockNumber returns the node's current head.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	if err := g.throttle(ctx); err != nil {
		return 0, fmt.Errorf("%w: block number: %w", ErrRead, err)
	}
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %w", ErrRead, err)
	}
	return head, nil
}

func (g *Gateway) throttle(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *Gateway) read(ctx context.Context, block *big.Int, id ContractID, method string, args ...any) ([]any, error) {
	b, err := g.binding(id)
	if err != nil {
		return nil, err
	}
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: pack %s.%s: %w", id, method, err)
	}
	if err := g.throttle(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrRead, id, method, err)
	}
	to := b.address
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrRead, id, method, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: %s.%s returned no data", ErrDecode, id, method)
	}
	out, err := b.abi.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrDecode, id, method, err)
	}
	return out, nil
}

// Write submits exactly one transaction calling method on the contract. A
// nil error means the node accepted the transaction for broadcast, not that
// it is confirmed.
func (g *Gateway) Write(ctx context.Context, id ContractID, method string, args ...any) (TxHandle, error) {
	ctx, span := g.tracer.Start(ctx, "ledger.write", trace.WithAttributes(
		attribute.String("contract", string(id)),
		attribute.String("method", method),
	))
	defer span.End()
	handle, err := g.write(ctx, id, method, args...)
	g.metrics.ObserveWrite(string(id), method, outcomeLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Warn("ledger write failed", "contract", id, "method", method, "error", err)
		return TxHandle{}, err
	}
	span.SetAttributes(attribute.String("tx.hash", handle.Hash.Hex()))
	span.SetStatus(codes.Ok, "submitted")
	g.logger.Info("ledger write submitted", "contract", id, "method", method, "tx", handle.Hash.Hex())
	return handle, nil
}

func (g *Gateway) write(ctx context.Context, id ContractID, method string, args ...any) (TxHandle, error) {
	signer, err := g.session.Signer()
	if err != nil {
		return TxHandle{}, err
	}
	b, err := g.binding(id)
	if err != nil {
		return TxHandle{}, err
	}
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return TxHandle{}, fmt.Errorf("%w: pack %s.%s: %w", ErrSubmission, id, method, err)
	}

	g.session.submit.Lock()
	defer g.session.submit.Unlock()

	if err := signer.EnsureNetwork(ctx, g.ChainID()); err != nil {
		return TxHandle{}, networkError(ctx, g.chainID, err)
	}
	hash, err := signer.SendTransaction(ctx, TxRequest{
		From:  signer.Address(),
		To:    b.address,
		Data:  data,
		Value: new(big.Int),
	})
	if err != nil {
		if errors.Is(err, ErrUserRejected) {
			return TxHandle{}, err
		}
		return TxHandle{}, fmt.Errorf("%w: %s.%s: %w", ErrSubmission, id, method, err)
	}
	if hash == (common.Hash{}) {
		return TxHandle{}, fmt.Errorf("%w: %s.%s: signer returned empty hash", ErrSubmission, id, method)
	}
	return TxHandle{Hash: hash, Contract: id, Method: method, SubmittedAt: g.now()}, nil
}

// networkError classifies a failed network check. Only a confirmed mismatch
// is ErrWrongNetwork; a caller abort is returned as the context error and
// anything else happened before a transaction existed, so it is a
// submission failure.
func networkError(ctx context.Context, chainID *big.Int, err error) error {
	switch {
	case errors.Is(err, ErrWrongNetwork):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: check chain %s: %w", ErrSubmission, chainID, err)
	}
}

func readOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrRead):
		return "read_error"
	default:
		return "error"
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoSigningIdentity):
		return "no_identity"
	case errors.Is(err, ErrWrongNetwork):
		return "wrong_network"
	case errors.Is(err, ErrUserRejected):
		return "rejected"
	case errors.Is(err, ErrTimedOut):
		return "timed_out"
	case errors.Is(err, ErrReverted):
		return "reverted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
