package workflow

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lendvault/finance"
	"lendvault/ledger"
)

// Action names a user intent handled by the orchestrator.
type Action string

const (
	ActionDeposit  Action = "deposit"
	ActionRepay    Action = "repay"
	ActionWithdraw Action = "withdraw"
	ActionRedeem   Action = "redeem"
)

// Status is a workflow state.
type Status string

const (
	StatusIdle                   Status = "idle"
	StatusCheckingPreconditions  Status = "checking_preconditions"
	StatusNeedsAuthorization     Status = "needs_authorization"
	StatusAuthorizationSubmitted Status = "authorization_submitted"
	StatusAuthorizationConfirmed Status = "authorization_confirmed"
	StatusActionSubmitted        Status = "action_submitted"
	StatusSucceeded              Status = "succeeded"
	StatusFailed                 Status = "failed"
)

var transitions = map[Status][]Status{
	StatusIdle:                   {StatusCheckingPreconditions},
	StatusCheckingPreconditions:  {StatusNeedsAuthorization, StatusActionSubmitted, StatusFailed},
	StatusNeedsAuthorization:     {StatusAuthorizationSubmitted, StatusFailed},
	StatusAuthorizationSubmitted: {StatusAuthorizationConfirmed, StatusFailed},
	StatusAuthorizationConfirmed: {StatusActionSubmitted, StatusFailed},
	StatusActionSubmitted:        {StatusSucceeded, StatusFailed},
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func canTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StepKind distinguishes the authorization write from the action write.
type StepKind string

const (
	StepAuthorize StepKind = "authorize"
	StepAction    StepKind = "action"
)

// Step records one write submitted by a workflow.
type Step struct {
	Kind      StepKind
	Contract  ledger.ContractID
	Method    string
	Handle    ledger.TxHandle
	Receipt   *ledger.Receipt
	Confirmed bool
}

// Workflow is the single-use record of one requested action. It is never
// reused or persisted.
type Workflow struct {
	ID         string
	Action     Action
	Status     Status
	Steps      []Step
	Failure    *Failure
	StartedAt  time.Time
	FinishedAt time.Time

	// Fee is the collector fee split, set for repayments.
	Fee *finance.Fee
	// Overpayment is set when a repayment exceeds the loan's remaining
	// balance at the time it was read.
	Overpayment bool

	history []Status
}

func newWorkflow(id string, action Action, now time.Time) *Workflow {
	return &Workflow{
		ID:        id,
		Action:    action,
		Status:    StatusIdle,
		StartedAt: now,
		history:   []Status{StatusIdle},
	}
}

func (w *Workflow) transition(to Status) {
	if !canTransition(w.Status, to) {
		panic(fmt.Sprintf("workflow %s: illegal transition %s -> %s", w.ID, w.Status, to))
	}
	w.Status = to
	w.history = append(w.history, to)
}

// History lists every state the workflow entered, in order.
func (w *Workflow) History() []Status {
	return append([]Status(nil), w.history...)
}

// TxHash returns the hash of the action write, or the zero hash when the
// action was never submitted.
func (w *Workflow) TxHash() common.Hash {
	for _, step := range w.Steps {
		if step.Kind == StepAction {
			return step.Handle.Hash
		}
	}
	return common.Hash{}
}

// Writes returns how many transactions the workflow submitted.
func (w *Workflow) Writes() int { return len(w.Steps) }

// Succeeded reports whether the workflow reached StatusSucceeded.
func (w *Workflow) Succeeded() bool { return w.Status == StatusSucceeded }

func (w *Workflow) lastStep() *Step {
	if len(w.Steps) == 0 {
		return nil
	}
	return &w.Steps[len(w.Steps)-1]
}
