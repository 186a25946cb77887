package cycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/marketdata"
)

func testConfig() Config {
	return Config{
		MaxSteps:      10,
		MaxDuration:   8 * time.Minute,
		HistoryWindow: 4000,
		CashCell:      "Portfolio Summary!B3",
	}
}

func testOrchestrator(completer Completer, led *fakeLedger, cfg Config) *Orchestrator {
	registry := NewStandardRegistry(Collaborators{
		Ledger:   led,
		Searcher: &fakeSearcher{result: "No search results found."},
		Quoter:   &fakeQuoter{quotes: map[string]*marketdata.Quote{"AAPL": quoteFor("AAPL", "50")}},
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(completer, led, registry, cfg, log)
}

func TestRunCycleBuyCommit(t *testing.T) {
	led := newFakeLedger("$10,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("check the price first", "get_stock_price", `{"symbol": "AAPL"}`)},
		{text: replyJSON("price confirmed, buying", FinalDecisionTool,
			`{"action": "BUY", "symbol": "AAPL", "quantity": 10, "target_price": 50, "rationale": "undervalued"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())
	emitter := NewEventEmitter("test", 64)

	out := o.RunCycle(context.Background(), emitter)
	emitter.Close()

	if out.Kind != OutcomeCommitted {
		t.Fatalf("Kind = %s, err = %v", out.Kind, out.Err)
	}
	if out.Steps != 2 {
		t.Errorf("Steps = %d, want 2", out.Steps)
	}
	if len(led.appended) != 1 {
		t.Fatalf("appended %d transactions, want 1", len(led.appended))
	}
	tx := led.appended[0]
	if tx.Symbol != "AAPL" || tx.Action != "BUY" || tx.Quantity.String() != "10" || tx.Price.String() != "50" {
		t.Errorf("transaction = %+v", tx)
	}
	updates := led.updated["Portfolio Summary!B3"]
	if len(updates) != 1 || updates[0] != "9500" {
		t.Errorf("cash updates = %v, want [9500]", updates)
	}

	var committed bool
	for ev := range emitter.Events() {
		if ev.Kind == EventDecisionCommitted {
			committed = true
			if ev.Data["new_cash"] != "9500" {
				t.Errorf("event new_cash = %v", ev.Data["new_cash"])
			}
		}
	}
	if !committed {
		t.Error("no decision_committed event emitted")
	}
}

func TestRunCycleSellCommit(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("taking profits", FinalDecisionTool,
			`{"action": "SELL", "symbol": "MSFT", "quantity": 5, "target_price": 20, "rationale": "rebalance"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeCommitted {
		t.Fatalf("Kind = %s, err = %v", out.Kind, out.Err)
	}
	updates := led.updated["Portfolio Summary!B3"]
	if len(updates) != 1 || updates[0] != "1100" {
		t.Errorf("cash updates = %v, want [1100]", updates)
	}
}

func TestRunCycleInsufficientFunds(t *testing.T) {
	led := newFakeLedger("$100.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("going big", FinalDecisionTool,
			`{"action": "BUY", "symbol": "AAPL", "quantity": 10, "target_price": 50, "rationale": "momentum"}`)},
		{text: replyJSON("not enough cash, holding", FinalDecisionTool,
			`{"action": "HOLD", "rationale": "insufficient funds"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s, err = %v", out.Kind, out.Err)
	}
	if len(led.appended) != 0 {
		t.Errorf("appended %d transactions, want 0", len(led.appended))
	}
	if len(led.updated) != 0 {
		t.Errorf("cash was updated: %v", led.updated)
	}
	if len(completer.prompts) != 2 {
		t.Fatalf("completer called %d times, want 2", len(completer.prompts))
	}
	want := "INSUFFICIENT FUNDS. Cannot execute BUY order of $500.00 with only $100.00 available."
	if !strings.Contains(completer.prompts[1], want) {
		t.Errorf("rejection observation missing from next prompt:\n%s", completer.prompts[1])
	}
}

func TestRunCycleLoopDetection(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	same := replyJSON("checking again", "get_stock_price", `{"symbol": "AAPL"}`)
	completer := &scriptedCompleter{steps: []scriptStep{{text: same}, {text: same}, {text: same}}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonLoopDetected {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if completer.calls != 3 {
		t.Errorf("completer called %d times, want 3", completer.calls)
	}
	if out.Decision == nil || out.Decision.Action != ActionHold {
		t.Errorf("Decision = %+v, want synthesized HOLD", out.Decision)
	}
}

func TestRunCycleMaxSteps(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("look", "sheets_list_worksheets", `{}`)},
		{text: replyJSON("note it down", "sheets_update_cell_value", `{"cell_notation": "Scratch!A1", "value": "x"}`)},
	}}
	cfg := testConfig()
	cfg.MaxSteps = 2
	o := testOrchestrator(completer, led, cfg)

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonMaxSteps {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if out.Steps != 2 {
		t.Errorf("Steps = %d, want 2", out.Steps)
	}
	// The last-step non-terminal action must not be dispatched.
	if len(led.updated) != 0 {
		t.Errorf("last-step tool was dispatched: %v", led.updated)
	}
}

func TestRunCycleAgentDeclines(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: `{"thought": "nothing to do", "action": null}`},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonDeclined {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
}

func TestRunCycleErrorStreak(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	boom := errors.New("upstream 500")
	completer := &scriptedCompleter{steps: []scriptStep{{err: boom}, {err: boom}, {err: boom}}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonErrorStreak {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if completer.calls != 3 {
		t.Errorf("completer called %d times, want 3", completer.calls)
	}
}

func TestRunCycleErrorStreakResetBySuccess(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	boom := errors.New("flaky upstream")
	completer := &scriptedCompleter{steps: []scriptStep{
		{err: boom},
		{err: boom},
		{text: replyJSON("recovered", "sheets_list_worksheets", `{}`)},
		{err: boom},
		{text: replyJSON("done", FinalDecisionTool, `{"action": "HOLD", "rationale": "quiet market"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s, Reason = %s, err = %v", out.Kind, out.Reason, out.Err)
	}
}

func TestRunCycleDeadline(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{}
	cfg := testConfig()
	cfg.MaxDuration = time.Minute
	o := testOrchestrator(completer, led, cfg)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	o.now = func() time.Time {
		clock = clock.Add(2 * time.Minute)
		return clock
	}

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonDeadline {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if completer.calls != 0 {
		t.Errorf("completer called %d times after deadline, want 0", completer.calls)
	}
}

func TestRunCycleUndecodableRepliesCountAsFailures(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: "not json"}, {text: "still not json"}, {text: "nope"},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeForcedHold || out.Reason != ReasonErrorStreak {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
}

func TestRunCycleCashUpdateFailure(t *testing.T) {
	led := newFakeLedger("$10,000.00")
	led.updateErr = errors.New("quota exceeded")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("buying", FinalDecisionTool,
			`{"action": "BUY", "symbol": "AAPL", "quantity": 1, "target_price": 100, "rationale": "r"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeError {
		t.Fatalf("Kind = %s", out.Kind)
	}
	if out.Err == nil || !strings.Contains(out.Err.Error(), "ledger inconsistency") {
		t.Errorf("Err = %v", out.Err)
	}
	if len(led.appended) != 1 {
		t.Errorf("appended %d transactions, want 1", len(led.appended))
	}
}

func TestRunCyclePreconditionFailures(t *testing.T) {
	t.Run("cash cell unreadable", func(t *testing.T) {
		led := newFakeLedger("$1.00")
		led.getCellErr = errors.New("permission denied")
		o := testOrchestrator(&scriptedCompleter{}, led, testConfig())
		if out := o.RunCycle(context.Background(), nil); out.Kind != OutcomeError {
			t.Errorf("Kind = %s", out.Kind)
		}
	})
	t.Run("cash not a number", func(t *testing.T) {
		led := newFakeLedger("pending")
		o := testOrchestrator(&scriptedCompleter{}, led, testConfig())
		if out := o.RunCycle(context.Background(), nil); out.Kind != OutcomeError {
			t.Errorf("Kind = %s", out.Kind)
		}
	})
}

func TestRunCycleSeedsHistoryWithCashAndSheets(t *testing.T) {
	led := newFakeLedger("$2,500.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("hold", FinalDecisionTool, `{"action": "HOLD", "rationale": "r"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	if out := o.RunCycle(context.Background(), nil); out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s", out.Kind)
	}
	prompt := completer.prompts[0]
	if !strings.Contains(prompt, "Cycle started with $2,500.00 cash") {
		t.Errorf("seed observation missing:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Summary_OSV") || !strings.Contains(prompt, "AVAILABLE TOOLS") {
		t.Errorf("prompt missing sheets or tool list:\n%s", prompt)
	}
}

func TestOutcomeStatus(t *testing.T) {
	committed := Outcome{Kind: OutcomeCommitted, Decision: &Decision{
		Action: ActionBuy, Symbol: "AAPL",
		Quantity:    decimal.RequireFromString("10"),
		TargetPrice: decimal.RequireFromString("50"),
	}}
	if got := committed.Status(); got != "Investment cycle completed: BUY 10 AAPL @ 50." {
		t.Errorf("Status = %q", got)
	}
	hold := Outcome{Kind: OutcomeHold, Decision: holdDecision("quiet")}
	if got := hold.Status(); got != "Investment cycle completed: HOLD." {
		t.Errorf("Status = %q", got)
	}
	forced := Outcome{Kind: OutcomeForcedHold, Reason: ReasonLoopDetected}
	if !strings.Contains(forced.Status(), "repeated action loop") {
		t.Errorf("Status = %q", forced.Status())
	}
}

func TestRunCycleUnknownToolsAreObservations(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("try a", "consult_oracle", `{}`)},
		{text: replyJSON("try b", "short_sell", `{"symbol": "AAPL"}`)},
		{text: replyJSON("try c", "read_tea_leaves", `{}`)},
		{text: replyJSON("back on track", FinalDecisionTool, `{"action": "HOLD", "rationale": "nothing usable"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if completer.calls != 4 {
		t.Errorf("completer called %d times, want 4", completer.calls)
	}
	if !strings.Contains(completer.prompts[1], "Unknown tool 'consult_oracle'") {
		t.Errorf("unknown-tool observation missing from next prompt:\n%s", completer.prompts[1])
	}
}

func TestRunCycleToolFailuresDoNotEndCycle(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("price a", "get_stock_price", `{"symbol": "AAPL"}`)},
		{text: replyJSON("price b", "get_stock_price", `{"symbol": "MSFT"}`)},
		{text: replyJSON("price c", "get_stock_price", `{"symbol": "NVDA"}`)},
		{text: replyJSON("no data, holding", FinalDecisionTool, `{"action": "HOLD", "rationale": "feed down"}`)},
	}}
	registry := NewStandardRegistry(Collaborators{
		Ledger:   led,
		Searcher: &fakeSearcher{},
		Quoter:   &fakeQuoter{err: errors.New("feed unavailable")},
	})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := NewOrchestrator(completer, led, registry, testConfig(), log)

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if completer.calls != 4 {
		t.Errorf("completer called %d times, want 4", completer.calls)
	}
}

func TestRunCycleInvalidDecisionIsObservation(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("buy it", FinalDecisionTool, `{"action": "BUY", "quantity": 1, "target_price": 10}`)},
		{text: replyJSON("fixed", FinalDecisionTool, `{"action": "HOLD", "rationale": "r"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	out := o.RunCycle(context.Background(), nil)
	if out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s, Reason = %s", out.Kind, out.Reason)
	}
	if !strings.Contains(completer.prompts[1], "invalid final_decision") {
		t.Errorf("validation observation missing from next prompt:\n%s", completer.prompts[1])
	}
}

func TestRunCycleBoundsContextByDeadline(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{steps: []scriptStep{
		{text: replyJSON("hold", FinalDecisionTool, `{"action": "HOLD", "rationale": "r"}`)},
	}}
	o := testOrchestrator(completer, led, testConfig())

	before := time.Now()
	if out := o.RunCycle(context.Background(), nil); out.Kind != OutcomeHold {
		t.Fatalf("Kind = %s", out.Kind)
	}
	if len(completer.deadlines) != 1 {
		t.Fatalf("model call carried no deadline")
	}
	limit := before.Add(testConfig().MaxDuration + time.Minute)
	if completer.deadlines[0].After(limit) {
		t.Errorf("context deadline %s exceeds the cycle ceiling", completer.deadlines[0])
	}
}

func TestRunCycleCancelledContext(t *testing.T) {
	led := newFakeLedger("$1,000.00")
	completer := &scriptedCompleter{}
	o := testOrchestrator(completer, led, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := o.RunCycle(ctx, nil)
	if out.Kind != OutcomeError {
		t.Fatalf("Kind = %s, want error for external cancellation", out.Kind)
	}
	if completer.calls != 0 {
		t.Errorf("completer called %d times after cancellation", completer.calls)
	}
}
