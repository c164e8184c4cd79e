package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ConfirmPolicy bounds AwaitConfirmation. Receipts are polled with
// exponential backoff from InitialInterval up to MaxInterval until the
// transaction has Blocks confirmations or Timeout elapses.
type ConfirmPolicy struct {
	Timeout         time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Blocks          uint64
}

// DefaultConfirmPolicy waits up to two minutes for one confirmation.
func DefaultConfirmPolicy() ConfirmPolicy {
	return ConfirmPolicy{
		Timeout:         2 * time.Minute,
		InitialInterval: time.Second,
		MaxInterval:     15 * time.Second,
		Blocks:          1,
	}
}

func (p ConfirmPolicy) normalised() ConfirmPolicy {
	def := DefaultConfirmPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Blocks == 0 {
		p.Blocks = 1
	}
	return p
}

// Receipt summarises a mined transaction.
type Receipt struct {
	TxHash      common.Hash
	BlockNumber uint64
	GasUsed     uint64
	Succeeded   bool
}

// AwaitConfirmation blocks until the transaction is confirmed, the policy
// timeout elapses (ErrTimedOut) or ctx is done (ErrTimedOut wrapping the
// context error). A mined transaction that failed execution returns its
// receipt together with ErrReverted.
func (g *Gateway) AwaitConfirmation(ctx context.Context, h TxHandle) (*Receipt, error) {
	ctx, span := g.tracer.Start(ctx, "ledger.await_confirmation", trace.WithAttributes(
		attribute.String("tx.hash", h.Hash.Hex()),
	))
	defer span.End()
	start := g.now()
	receipt, err := g.awaitConfirmation(ctx, h)
	g.metrics.ObserveConfirmation(outcomeLabel(err), g.now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return receipt, err
	}
	span.SetAttributes(attribute.Int64("block", int64(receipt.BlockNumber)))
	span.SetStatus(codes.Ok, "confirmed")
	return receipt, nil
}

func (g *Gateway) awaitConfirmation(parent context.Context, h TxHandle) (*Receipt, error) {
	if (h.Hash == common.Hash{}) {
		return nil, fmt.Errorf("ledger: tx hash required")
	}
	policy := g.confirm.normalised()
	ctx, cancel := context.WithTimeout(parent, policy.Timeout)
	defer cancel()

	interval := policy.InitialInterval
	for {
		receipt, err := g.client.TransactionReceipt(ctx, h.Hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != gethtypes.ReceiptStatusSuccessful {
				return summarise(receipt), fmt.Errorf("%w: %s", ErrReverted, h.Hash.Hex())
			}
			ok, err := g.deepEnough(ctx, receipt, policy.Blocks)
			if err != nil {
				g.logger.Debug("ledger: head lookup failed", "tx", h.Hash.Hex(), "error", err)
			} else if ok {
				return summarise(receipt), nil
			}
		case err == nil, errors.Is(err, ethereum.NotFound):
			// pending
		default:
			if ctx.Err() == nil {
				g.logger.Debug("ledger: receipt lookup failed", "tx", h.Hash.Hex(), "error", err)
			}
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			if parent.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrTimedOut, h.Hash.Hex(), parent.Err())
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrTimedOut, h.Hash.Hex(), policy.Timeout)
		case <-timer.C:
		}
		interval *= 2
		if interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}
}

func (g *Gateway) deepEnough(ctx context.Context, receipt *gethtypes.Receipt, blocks uint64) (bool, error) {
	if blocks <= 1 {
		return true, nil
	}
	if receipt.BlockNumber == nil {
		return false, nil
	}
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return false, err
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined {
		return false, nil
	}
	return head-mined+1 >= blocks, nil
}

func summarise(r *gethtypes.Receipt) *Receipt {
	out := &Receipt{
		TxHash:    r.TxHash,
		GasUsed:   r.GasUsed,
		Succeeded: r.Status == gethtypes.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}
