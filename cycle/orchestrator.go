package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/ledger"
)

// Orchestrator runs autonomous investment cycles. A single Orchestrator can
// be reused; each RunCycle call builds fresh per-cycle state.
type Orchestrator struct {
	completer Completer
	ledger    Ledger
	registry  *Registry
	cfg       Config
	log       *slog.Logger

	// now is swapped in tests to control the wall clock.
	now func() time.Time
}

// NewOrchestrator wires a cycle runner from its collaborators. The registry
// must contain the final_decision definition; collaborator tools come from
// NewStandardRegistry.
func NewOrchestrator(completer Completer, led Ledger, registry *Registry, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		completer: completer,
		ledger:    led,
		registry:  registry,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RunCycle executes one full reason-act-observe cycle and returns its single
// terminal outcome. Emitted events, if a non-nil emitter is given, mirror the
// cycle's progress; the emitter is not closed by this method.
func (o *Orchestrator) RunCycle(ctx context.Context, emitter *EventEmitter) Outcome {
	cycleID := uuid.NewString()
	if emitter != nil && emitter.CycleID() != "" {
		cycleID = emitter.CycleID()
	}
	started := o.now()
	// Retries inside the collaborators are bounded by the same wall-clock
	// ceiling the deadline guard enforces, so a stalled outbound call cannot
	// outlive the cycle.
	ctx, cancel := context.WithDeadline(ctx, started.Add(o.cfg.MaxDuration))
	defer cancel()
	guard := newGuard(o.cfg.MaxDuration, o.now)
	log := o.log.With("cycle_id", cycleID)
	emit := func(kind EventKind, data map[string]interface{}) {
		if emitter != nil {
			emitter.Emit(kind, data)
		}
	}

	finish := func(out Outcome) Outcome {
		out.Elapsed = o.now().Sub(started)
		emit(EventCycleEnd, map[string]interface{}{
			"kind":    string(out.Kind),
			"reason":  string(out.Reason),
			"steps":   out.Steps,
			"elapsed": out.Elapsed.String(),
		})
		log.Info("cycle finished",
			"kind", out.Kind, "reason", out.Reason,
			"steps", out.Steps, "elapsed", out.Elapsed)
		return out
	}

	log.Info("starting investment cycle")

	sheets, err := o.ledger.ListSheets(ctx)
	if err != nil {
		return finish(Outcome{Kind: OutcomeError, Err: fmt.Errorf("list worksheets: %w", err)})
	}
	portfolio, err := o.ledger.PortfolioSnapshot(ctx)
	if err != nil {
		return finish(Outcome{Kind: OutcomeError, Err: fmt.Errorf("read portfolio: %w", err)})
	}
	rawCash, err := o.ledger.GetCell(ctx, o.cfg.CashCell)
	if err != nil {
		return finish(Outcome{Kind: OutcomeError, Err: fmt.Errorf("read cash cell %s: %w", o.cfg.CashCell, err)})
	}
	cash, err := ledger.ParseCurrency(rawCash)
	if err != nil {
		return finish(Outcome{Kind: OutcomeError, Err: fmt.Errorf("parse cash balance %q: %w", rawCash, err)})
	}
	log.Info("initial state read", "cash", cash, "positions", len(portfolio), "sheets", sheets)
	emit(EventCycleStart, map[string]interface{}{"cash": cash.String(), "positions": len(portfolio)})

	objective := buildObjective(cash, portfolio)
	history := NewHistory(seedObservation(cash, sheets))

	forcedHold := func(reason ForceReason, rationale string, steps int) Outcome {
		emit(EventGuardTripped, map[string]interface{}{"reason": string(reason)})
		log.Warn("cycle forced to hold", "reason", reason)
		return finish(Outcome{
			Kind:     OutcomeForcedHold,
			Reason:   reason,
			Decision: holdDecision(rationale),
			Steps:    steps,
		})
	}

	for step := 1; step <= o.cfg.MaxSteps; step++ {
		if guard.DeadlinePassed() || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return forcedHold(ReasonDeadline, "Wall-clock budget exhausted before a decision was reached.", step-1)
		}
		if err := ctx.Err(); err != nil {
			return finish(Outcome{Kind: OutcomeError, Steps: step - 1, Err: err})
		}

		log.Info("reasoning step", "step", step, "max_steps", o.cfg.MaxSteps)
		emit(EventStepStart, map[string]interface{}{"step": step})

		prompt := buildPrompt(objective, history.Render(o.cfg.HistoryWindow), o.registry.Definitions())

		completion, err := o.completer.Complete(ctx, prompt, false)
		if err != nil {
			log.Error("model call failed", "step", step, "error", err)
			history.AppendObservation("Model response error. Trying a different approach.")
			if guard.RecordFailure() {
				return forcedHold(ReasonErrorStreak, "Too many consecutive failed steps.", step)
			}
			continue
		}

		reply, err := ParseReply(completion.Text)
		if err != nil {
			log.Error("undecodable model reply", "step", step, "error", err)
			history.AppendObservation("Model response error. Trying a different approach.")
			if guard.RecordFailure() {
				return forcedHold(ReasonErrorStreak, "Too many consecutive failed steps.", step)
			}
			continue
		}
		emit(EventModelReply, map[string]interface{}{"thought": reply.Thought})
		// The streak tracks model-call and parse failures only; a decoded
		// reply resets it no matter how the dispatch below goes.
		guard.RecordSuccess()

		if reply.Action == nil {
			log.Info("agent declined to choose a tool")
			return forcedHold(ReasonDeclined, "Agent chose no tool.", step)
		}
		action := *reply.Action
		signature := action.Signature()
		log.Info("action chosen", "step", step, "tool", action.Tool)

		if guard.RecordAction(signature) {
			log.Warn("action loop detected", "signature", signature)
			return forcedHold(ReasonLoopDetected, "Agent repeated the same action and was stopped.", step)
		}

		if action.Tool == FinalDecisionTool {
			outcome, retry := o.commitDecision(ctx, log, emit, history, reply.Thought, action, cash, step)
			if retry {
				continue
			}
			return finish(outcome)
		}

		if step == o.cfg.MaxSteps {
			// A non-terminal action on the last step cannot lead anywhere:
			// there is no next step to read its observation.
			log.Info("last step chose a non-terminal tool", "tool", action.Tool)
			return forcedHold(ReasonMaxSteps, "Reasoning step budget exhausted without a decision.", step)
		}

		emit(EventToolCall, map[string]interface{}{"tool": action.Tool, "signature": signature})
		observation, dispatchErr := o.registry.Dispatch(ctx, action)
		emit(EventToolResult, map[string]interface{}{"tool": action.Tool, "observation": observation})
		history.Append(reply.Thought, signature, observation)
		if dispatchErr != nil {
			// Dispatch problems, unknown tools included, go back to the
			// model as plain observations; only the repetition and step
			// budgets bound them.
			log.Warn("tool failed", "tool", action.Tool, "error", dispatchErr)
			continue
		}
		log.Info("observation recorded", "tool", action.Tool, "chars", len(observation))
	}

	log.Info("max reasoning steps reached")
	return forcedHold(ReasonMaxSteps, "Reasoning step budget exhausted without a decision.", o.cfg.MaxSteps)
}

// commitDecision handles a final_decision action: validate it, enforce the
// funds check, and for trades write the transaction row before the cash
// update. retry=true means the cycle should keep reasoning.
func (o *Orchestrator) commitDecision(
	ctx context.Context,
	log *slog.Logger,
	emit func(EventKind, map[string]interface{}),
	history *History,
	thought string,
	action ActionRequest,
	cash decimal.Decimal,
	step int,
) (Outcome, bool) {
	decision, err := decisionFromParams(action.Parameters)
	if err != nil {
		// An invalid decision is fed back as an observation; a model stuck
		// resending it verbatim trips the repetition guard instead.
		log.Warn("invalid final decision", "error", err)
		history.Append(thought, action.Signature(), fmt.Sprintf("Error: invalid final_decision: %v", err))
		return Outcome{}, true
	}

	if !decision.IsTrade() {
		log.Info("hold decision", "rationale", decision.Rationale)
		return Outcome{Kind: OutcomeHold, Decision: decision, Steps: step}, false
	}

	tradeValue := decision.Quantity.Mul(decision.TargetPrice)
	if decision.Action == ActionBuy && tradeValue.GreaterThan(cash) {
		observation := fmt.Sprintf("INSUFFICIENT FUNDS. Cannot execute BUY order of $%s with only $%s available.",
			formatMoney(tradeValue), formatMoney(cash))
		log.Warn("buy rejected", "trade_value", tradeValue, "cash", cash)
		emit(EventFundsRejected, map[string]interface{}{"trade_value": tradeValue.String(), "cash": cash.String()})
		history.Append(thought, action.Signature(), observation)
		return Outcome{}, true
	}

	tx := ledger.Transaction{
		Symbol:    decision.Symbol,
		Action:    string(decision.Action),
		Quantity:  decision.Quantity,
		Price:     decision.TargetPrice,
		Rationale: decision.Rationale,
	}
	if err := o.ledger.AppendTransaction(ctx, tx); err != nil {
		return Outcome{Kind: OutcomeError, Steps: step, Err: fmt.Errorf("append transaction: %w", err)}, false
	}

	newCash := cash.Sub(tradeValue)
	if decision.Action == ActionSell {
		newCash = cash.Add(tradeValue)
	}
	if err := o.ledger.UpdateCell(ctx, o.cfg.CashCell, newCash.String()); err != nil {
		// The transaction row is already written; the ledger is now
		// inconsistent and needs manual reconciliation.
		return Outcome{Kind: OutcomeError, Steps: step,
			Err: fmt.Errorf("ledger inconsistency: transaction recorded but cash update failed: %w", err)}, false
	}

	log.Info("decision committed",
		"action", decision.Action, "symbol", decision.Symbol,
		"quantity", decision.Quantity, "price", decision.TargetPrice,
		"new_cash", newCash)
	emit(EventDecisionCommitted, map[string]interface{}{
		"action":   string(decision.Action),
		"symbol":   decision.Symbol,
		"new_cash": newCash.String(),
	})
	return Outcome{Kind: OutcomeCommitted, Decision: decision, Steps: step}, false
}
