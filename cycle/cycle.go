// Package cycle implements the autonomous investment loop: build a prompt
// from the objective and the running history, ask the model for its next
// action, dispatch that action against the registered tools, feed the
// observation back, and repeat until the agent commits a final decision or a
// guard forces the cycle to stop.
//
// One Orchestrator invocation owns all cycle state. Nothing is shared across
// concurrent cycles and nothing persists when the cycle returns; the
// spreadsheet ledger is the only system of record.
package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/martinemde/autovest/ledger"
	"github.com/martinemde/autovest/llmclient"
	"github.com/martinemde/autovest/marketdata"
)

// Completer is the language-model collaborator.
type Completer interface {
	Complete(ctx context.Context, prompt string, augment bool) (*llmclient.Completion, error)
}

// Ledger is the spreadsheet system of record.
type Ledger interface {
	ListSheets(ctx context.Context) ([]string, error)
	GetCell(ctx context.Context, notation string) (string, error)
	GetRange(ctx context.Context, notation string) ([][]string, error)
	UpdateCell(ctx context.Context, notation string, value interface{}) error
	AppendTransaction(ctx context.Context, tx ledger.Transaction) error
	PortfolioSnapshot(ctx context.Context) ([]ledger.Position, error)
	TransactionHistory(ctx context.Context, symbol string) ([]ledger.TransactionRecord, error)
}

// Searcher is the web-search collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Quoter is the market-data collaborator.
type Quoter interface {
	GetPrice(ctx context.Context, symbol string) (*marketdata.Quote, error)
	GetPrices(ctx context.Context, symbols []string) ([]*marketdata.Quote, error)
}

// Config holds the loop budgets for one orchestrator.
type Config struct {
	MaxSteps      int           // reasoning step budget, >= 1
	MaxDuration   time.Duration // wall-clock ceiling for one cycle
	HistoryWindow int           // trailing history characters kept in the prompt
	CashCell      string        // ledger cell holding cash on hand
}

// OutcomeKind classifies how a cycle terminated.
type OutcomeKind string

const (
	// OutcomeCommitted means a BUY or SELL decision was committed to the ledger.
	OutcomeCommitted OutcomeKind = "committed"
	// OutcomeHold means the agent explicitly decided to hold.
	OutcomeHold OutcomeKind = "hold"
	// OutcomeForcedHold means a guard or budget ended the cycle without a decision.
	OutcomeForcedHold OutcomeKind = "forced_hold"
	// OutcomeError means a precondition or commit failed; nothing more will run.
	OutcomeError OutcomeKind = "error"
)

// ForceReason says which guard or budget forced a HOLD.
type ForceReason string

const (
	ReasonLoopDetected ForceReason = "loop_detected"
	ReasonDeadline     ForceReason = "deadline_exceeded"
	ReasonErrorStreak  ForceReason = "error_streak"
	ReasonMaxSteps     ForceReason = "max_steps"
	ReasonDeclined     ForceReason = "agent_declined"
)

// Outcome is the single terminal result of one cycle.
type Outcome struct {
	Kind     OutcomeKind
	Reason   ForceReason // set when Kind is OutcomeForcedHold
	Decision *Decision   // nil only when Kind is OutcomeError
	Steps    int
	Elapsed  time.Duration
	Err      error // set when Kind is OutcomeError
}

// Status renders the one-line human-readable outcome for the HTTP trigger.
func (o Outcome) Status() string {
	switch o.Kind {
	case OutcomeCommitted:
		d := o.Decision
		return fmt.Sprintf("Investment cycle completed: %s %s %s @ %s.",
			d.Action, d.Quantity, d.Symbol, d.TargetPrice)
	case OutcomeHold:
		return "Investment cycle completed: HOLD."
	case OutcomeForcedHold:
		switch o.Reason {
		case ReasonLoopDetected:
			return "Cycle ended with emergency HOLD: repeated action loop detected."
		case ReasonDeadline:
			return "Cycle ended with emergency HOLD: wall-clock deadline exceeded."
		case ReasonErrorStreak:
			return "Cycle ended with emergency HOLD: too many consecutive failures."
		case ReasonMaxSteps:
			return "Cycle ended with HOLD: max reasoning steps reached."
		case ReasonDeclined:
			return "Cycle ended with HOLD: agent declined to act."
		}
		return "Cycle ended with forced HOLD."
	case OutcomeError:
		return fmt.Sprintf("Cycle failed: %v", o.Err)
	}
	return "Cycle ended."
}
