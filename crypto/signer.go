package crypto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"lendvault/ledger"
)

// Backend is the node API a KeySigner needs to price, sign and broadcast
// transactions. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeySigner is a ledger.Signer backed by a local private key. It cannot
// switch networks, so EnsureNetwork fails when the node serves another chain.
type KeySigner struct {
	key     *PrivateKey
	backend Backend
	logger  *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
}

var _ ledger.Signer = (*KeySigner)(nil)

// SignerOption customises a KeySigner.
type SignerOption func(*KeySigner)

// WithSignerLogger sets the structured logger.
func WithSignerLogger(l *slog.Logger) SignerOption {
	return func(s *KeySigner) { s.logger = l }
}

// NewKeySigner binds key to backend.
func NewKeySigner(key *PrivateKey, backend Backend, opts ...SignerOption) (*KeySigner, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: private key required")
	}
	if backend == nil {
		return nil, errors.New("crypto: backend required")
	}
	s := &KeySigner{key: key, backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Address returns the account controlled by the signer's key.
func (s *KeySigner) Address() common.Address { return s.key.Address() }

// EnsureNetwork checks that the backend serves chainID and pins it for
// subsequent signatures.
func (s *KeySigner) EnsureNetwork(ctx context.Context, chainID *big.Int) error {
	if chainID == nil {
		return fmt.Errorf("%w: no chain id requested", ledger.ErrWrongNetwork)
	}
	actual, err := s.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("crypto: query chain id: %w", err)
	}
	if actual.Cmp(chainID) != 0 {
		return fmt.Errorf("%w: node serves chain %s, want %s", ledger.ErrWrongNetwork, actual, chainID)
	}
	s.mu.Lock()
	s.chainID = new(big.Int).Set(chainID)
	s.mu.Unlock()
	return nil
}

// SendTransaction prices req as an EIP-1559 transaction, signs it and hands
// it to the backend for broadcast.
func (s *KeySigner) SendTransaction(ctx context.Context, req ledger.TxRequest) (common.Hash, error) {
	s.mu.Lock()
	chainID := s.chainID
	s.mu.Unlock()
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("%w: network not confirmed", ledger.ErrWrongNetwork)
	}
	from := s.Address()
	if req.From != (common.Address{}) && req.From != from {
		return common.Hash{}, fmt.Errorf("crypto: request from %s, signer is %s", req.From.Hex(), from.Hex())
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: pending nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: suggest tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	to := req.To
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:      from,
		To:        &to,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Value:     value,
		Data:      req.Data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: estimate gas: %w", err)
	}

	tx, err := types.SignNewTx(s.key.PrivateKey, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("crypto: sign: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, fmt.Errorf("crypto: broadcast: %w", err)
	}
	s.logger.Debug("transaction broadcast", "tx", tx.Hash().Hex(), "nonce", nonce, "gas", gas)
	return tx.Hash(), nil
}
