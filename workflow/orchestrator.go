package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lendvault/finance"
	"lendvault/ledger"
	"lendvault/observability"
	"lendvault/units"
)

// Ledger is the write half of the gateway used by workflows.
type Ledger interface {
	Account() (common.Address, error)
	Address(id ledger.ContractID) (common.Address, error)
	Write(ctx context.Context, id ledger.ContractID, method string, args ...any) (ledger.TxHandle, error)
	AwaitConfirmation(ctx context.Context, h ledger.TxHandle) (*ledger.Receipt, error)
}

// State supplies fresh on-chain reads. *reader.Reader satisfies it.
type State interface {
	TokenBalance(ctx context.Context, owner common.Address) (units.Amount, error)
	VaultShareBalance(ctx context.Context, owner common.Address) (units.Amount, error)
	Allowance(ctx context.Context, owner, spender common.Address) (units.Amount, error)
	PreviewWithdraw(ctx context.Context, assets units.Amount) (units.Amount, error)
	LoanRecord(ctx context.Context, id uint64) (finance.LoanRecord, error)
	CollectorFeeBps(ctx context.Context) (uint64, error)
}

// Orchestrator turns user intents into ordered, at-most-once ledger writes.
// It holds no per-workflow state and is safe for concurrent use; concurrent
// workflows are not serialised against each other.
type Orchestrator struct {
	ledger    Ledger
	state     State
	unlimited bool
	strict    bool
	metrics   *observability.WorkflowMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option customises the orchestrator.
type Option func(*Orchestrator)

// WithUnlimitedApproval approves the maximum uint256 allowance instead of
// the exact amount when an authorization is needed.
func WithUnlimitedApproval() Option {
	return func(o *Orchestrator) { o.unlimited = true }
}

// WithOverpaymentRejected fails repayments larger than the loan's remaining
// balance before anything is submitted. By default they are flagged on the
// workflow and left to the collector.
func WithOverpaymentRejected() Option {
	return func(o *Orchestrator) { o.strict = true }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *observability.WorkflowMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.now = clock }
}

// WithIDGenerator sets the function used to name workflows.
func WithIDGenerator(next func() string) Option {
	return func(o *Orchestrator) { o.newID = next }
}

// New constructs an orchestrator over a session-bound ledger and a reader.
func New(l Ledger, s State, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:  l,
		state:   s,
		metrics: observability.Workflow(),
		tracer:  otel.Tracer("lendvault/workflow"),
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.Workflow()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Deposit moves amount tokens into the vault for receiver, authorizing the
// vault first when the current allowance is short. A zero receiver deposits
// for the signer.
func (o *Orchestrator) Deposit(ctx context.Context, amount units.Amount, receiver common.Address) (*Workflow, error) {
	return o.run(ctx, ActionDeposit, func(ctx context.Context, w *Workflow) error {
		if err := checkAmount(amount, units.TokenDecimals); err != nil {
			return err
		}
		account, err := o.ledger.Account()
		if err != nil {
			return err
		}
		if receiver == (common.Address{}) {
			receiver = account
		}
		balance, err := o.state.TokenBalance(ctx, account)
		if err != nil {
			return err
		}
		if err := CheckDeposit(amount, balance); err != nil {
			return err
		}
		vault, err := o.ledger.Address(ledger.Vault)
		if err != nil {
			return err
		}
		if err := o.authorize(ctx, w, account, vault, amount); err != nil {
			return err
		}
		return o.act(ctx, w, ledger.Vault, "deposit", amount.Int(), receiver)
	})
}

// Repay records a payment of amount tokens against loanID through the
// payment collector, authorizing the collector first when needed.
func (o *Orchestrator) Repay(ctx context.Context, loanID uint64, amount units.Amount) (*Workflow, error) {
	return o.run(ctx, ActionRepay, func(ctx context.Context, w *Workflow) error {
		if err := checkAmount(amount, units.TokenDecimals); err != nil {
			return err
		}
		account, err := o.ledger.Account()
		if err != nil {
			return err
		}
		loan, err := o.state.LoanRecord(ctx, loanID)
		if err != nil {
			return err
		}
		balance, err := o.state.TokenBalance(ctx, account)
		if err != nil {
			return err
		}
		if err := CheckRepay(loan, amount, balance); err != nil {
			return err
		}
		remaining, err := finance.RemainingBalance(loan)
		if err != nil {
			return err
		}
		w.Overpayment = amount.Cmp(remaining) > 0
		if w.Overpayment {
			if o.strict {
				return fmt.Errorf("%w: paying %s, %s remaining on loan %d", ErrOverpayment, amount, remaining, loanID)
			}
			o.logger.Warn("repayment exceeds remaining balance",
				"workflow", w.ID, "loan", loanID, "amount", amount.String(),
				"remaining", remaining.String())
		}
		feeBps, err := o.state.CollectorFeeBps(ctx)
		if err != nil {
			return err
		}
		fee, err := finance.FeeBreakdown(amount, feeBps)
		if err != nil {
			return err
		}
		w.Fee = &fee
		collector, err := o.ledger.Address(ledger.PaymentCollector)
		if err != nil {
			return err
		}
		if err := o.authorize(ctx, w, account, collector, amount); err != nil {
			return err
		}
		return o.act(ctx, w, ledger.PaymentCollector, "recordPayment", new(big.Int).SetUint64(loanID), amount.Int())
	})
}

// Withdraw releases assets tokens from the vault to receiver, burning
// owner's shares. The shares the vault would burn are checked against
// owner's balance first. Zero receiver or owner default to the signer.
func (o *Orchestrator) Withdraw(ctx context.Context, assets units.Amount, receiver, owner common.Address) (*Workflow, error) {
	return o.run(ctx, ActionWithdraw, func(ctx context.Context, w *Workflow) error {
		if err := checkAmount(assets, units.TokenDecimals); err != nil {
			return err
		}
		receiver, owner, err := o.parties(receiver, owner)
		if err != nil {
			return err
		}
		required, err := o.state.PreviewWithdraw(ctx, assets)
		if err != nil {
			return err
		}
		balance, err := o.state.VaultShareBalance(ctx, owner)
		if err != nil {
			return err
		}
		if err := CheckShares(required, balance); err != nil {
			return err
		}
		return o.act(ctx, w, ledger.Vault, "withdraw", assets.Int(), receiver, owner)
	})
}

// Redeem burns shares of owner's vault shares and sends the underlying
// tokens to receiver. Zero receiver or owner default to the signer.
func (o *Orchestrator) Redeem(ctx context.Context, shares units.Amount, receiver, owner common.Address) (*Workflow, error) {
	return o.run(ctx, ActionRedeem, func(ctx context.Context, w *Workflow) error {
		if err := checkAmount(shares, units.ShareDecimals); err != nil {
			return err
		}
		receiver, owner, err := o.parties(receiver, owner)
		if err != nil {
			return err
		}
		balance, err := o.state.VaultShareBalance(ctx, owner)
		if err != nil {
			return err
		}
		if err := CheckShares(shares, balance); err != nil {
			return err
		}
		return o.act(ctx, w, ledger.Vault, "redeem", shares.Int(), receiver, owner)
	})
}

func (o *Orchestrator) parties(receiver, owner common.Address) (common.Address, common.Address, error) {
	account, err := o.ledger.Account()
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	if receiver == (common.Address{}) {
		receiver = account
	}
	if owner == (common.Address{}) {
		owner = account
	}
	return receiver, owner, nil
}

func (o *Orchestrator) run(ctx context.Context, action Action, body func(context.Context, *Workflow) error) (*Workflow, error) {
	w := newWorkflow(o.newID(), action, o.now())
	ctx, span := o.tracer.Start(ctx, "workflow."+string(action), trace.WithAttributes(
		attribute.String("workflow.id", w.ID),
	))
	defer span.End()

	o.enter(w, StatusCheckingPreconditions)
	err := body(ctx, w)
	w.FinishedAt = o.now()
	if err != nil {
		step := StepKind("")
		if last := w.lastStep(); last != nil {
			step = last.Kind
		}
		f := fail(step, err)
		w.Failure = f
		o.enter(w, StatusFailed)
		span.RecordError(f)
		span.SetStatus(codes.Error, string(f.Reason))
		o.metrics.ObserveOutcome(string(action), string(f.Reason), w.FinishedAt.Sub(w.StartedAt))
		o.logger.Warn("workflow failed",
			"workflow", w.ID, "action", action, "reason", f.Reason,
			"writes", w.Writes(), "error", f.Err)
		return w, f
	}
	o.enter(w, StatusSucceeded)
	span.SetAttributes(attribute.String("tx.hash", w.TxHash().Hex()))
	span.SetStatus(codes.Ok, "succeeded")
	o.metrics.ObserveOutcome(string(action), "", w.FinishedAt.Sub(w.StartedAt))
	o.logger.Info("workflow succeeded",
		"workflow", w.ID, "action", action, "tx", w.TxHash().Hex(), "writes", w.Writes())
	return w, nil
}

func (o *Orchestrator) enter(w *Workflow, status Status) {
	w.transition(status)
	o.metrics.RecordTransition(string(w.Action), string(status))
}

// authorize ensures spender may move amount of owner's tokens. When the
// fresh allowance is short it submits one approval and waits for it to
// confirm; an unconfirmed approval is never relied upon.
func (o *Orchestrator) authorize(ctx context.Context, w *Workflow, owner, spender common.Address, amount units.Amount) error {
	allowance, err := o.state.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	o.enter(w, StatusNeedsAuthorization)
	approval := amount.Int()
	if o.unlimited {
		approval = new(uint256.Int).SetAllOne().ToBig()
	}
	handle, err := o.ledger.Write(ctx, ledger.Token, "approve", spender, approval)
	if err != nil {
		return fail(StepAuthorize, err)
	}
	w.Steps = append(w.Steps, Step{Kind: StepAuthorize, Contract: ledger.Token, Method: "approve", Handle: handle})
	o.enter(w, StatusAuthorizationSubmitted)
	receipt, err := o.ledger.AwaitConfirmation(ctx, handle)
	w.lastStep().Receipt = receipt
	if err != nil {
		return fail(StepAuthorize, err)
	}
	w.lastStep().Confirmed = true
	o.enter(w, StatusAuthorizationConfirmed)
	return nil
}

// act submits the action write exactly once and waits for it to confirm.
func (o *Orchestrator) act(ctx context.Context, w *Workflow, id ledger.ContractID, method string, args ...any) error {
	handle, err := o.ledger.Write(ctx, id, method, args...)
	if err != nil {
		return fail(StepAction, err)
	}
	w.Steps = append(w.Steps, Step{Kind: StepAction, Contract: id, Method: method, Handle: handle})
	o.enter(w, StatusActionSubmitted)
	receipt, err := o.ledger.AwaitConfirmation(ctx, handle)
	w.lastStep().Receipt = receipt
	if err != nil {
		return fail(StepAction, err)
	}
	w.lastStep().Confirmed = true
	return nil
}
