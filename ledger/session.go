package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is an unsigned contract call handed to a Signer. Gas, fees and
// nonce are the signer's responsibility.
type TxRequest struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Signer is the signing capability supplied by a wallet or identity provider.
type Signer interface {
	// Address is the account the signer is bound to.
	Address() common.Address
	// EnsureNetwork makes sure subsequent submissions target chainID,
	// switching networks in place when the provider supports it. Providers
	// that cannot switch return an error wrapping ErrWrongNetwork.
	EnsureNetwork(ctx context.Context, chainID *big.Int) error
	// SendTransaction signs and broadcasts req, returning its hash once the
	// node accepted it. Providers return an error wrapping ErrUserRejected
	// when the user declines.
	SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error)
}

// Session scopes a Signer to its provider's lifetime. It is opened when a
// provider becomes available and closed when the provider disconnects; a
// closed session no longer yields a signer.
type Session struct {
	mu     sync.RWMutex
	signer Signer

	// submit serialises submissions so one identity never has two
	// transactions in flight awaiting a nonce.
	submit sync.Mutex
}

// OpenSession binds signer to a new session.
func OpenSession(signer Signer) (*Session, error) {
	if signer == nil {
		return nil, ErrNoSigningIdentity
	}
	return &Session{signer: signer}, nil
}

// Signer returns the active signer or ErrNoSigningIdentity.
func (s *Session) Signer() (Signer, error) {
	if s == nil {
		return nil, ErrNoSigningIdentity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.signer == nil {
		return nil, ErrNoSigningIdentity
	}
	return s.signer, nil
}

// Address returns the signer's address or the zero address when closed.
func (s *Session) Address() common.Address {
	signer, err := s.Signer()
	if err != nil {
		return common.Address{}
	}
	return signer.Address()
}

// Active reports whether the session still holds a signer.
func (s *Session) Active() bool {
	_, err := s.Signer()
	return err == nil
}

// Close tears down the session. It is safe to call more than once.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = nil
}
