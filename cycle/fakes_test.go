package cycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/ledger"
	"github.com/martinemde/autovest/llmclient"
	"github.com/martinemde/autovest/marketdata"
)

// fakeLedger is an in-memory spreadsheet stand-in recording every write.
type fakeLedger struct {
	sheets    []string
	cells     map[string]string
	ranges    map[string][][]string
	positions []ledger.Position
	records   map[string][]ledger.TransactionRecord

	appended   []ledger.Transaction
	updated    map[string][]interface{}
	appendErr  error
	updateErr  error
	getCellErr error
}

func newFakeLedger(cash string) *fakeLedger {
	return &fakeLedger{
		sheets:  []string{"Summary_OSV", "Transactions_OSV"},
		cells:   map[string]string{"Portfolio Summary!B3": cash},
		ranges:  map[string][][]string{},
		records: map[string][]ledger.TransactionRecord{},
		updated: map[string][]interface{}{},
	}
}

func (f *fakeLedger) ListSheets(ctx context.Context) ([]string, error) {
	return f.sheets, nil
}

func (f *fakeLedger) GetCell(ctx context.Context, notation string) (string, error) {
	if f.getCellErr != nil {
		return "", f.getCellErr
	}
	v, ok := f.cells[notation]
	if !ok {
		return "", nil
	}
	return v, nil
}

func (f *fakeLedger) GetRange(ctx context.Context, notation string) ([][]string, error) {
	return f.ranges[notation], nil
}

func (f *fakeLedger) UpdateCell(ctx context.Context, notation string, value interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated[notation] = append(f.updated[notation], value)
	f.cells[notation] = fmt.Sprintf("%v", value)
	return nil
}

func (f *fakeLedger) AppendTransaction(ctx context.Context, tx ledger.Transaction) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, tx)
	return nil
}

func (f *fakeLedger) PortfolioSnapshot(ctx context.Context) ([]ledger.Position, error) {
	return f.positions, nil
}

func (f *fakeLedger) TransactionHistory(ctx context.Context, symbol string) ([]ledger.TransactionRecord, error) {
	return f.records[strings.ToUpper(strings.TrimSpace(symbol))], nil
}

// fakeSearcher returns a fixed result and records queries.
type fakeSearcher struct {
	result  string
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

// fakeQuoter serves quotes from a static table.
type fakeQuoter struct {
	quotes map[string]*marketdata.Quote
	err    error
}

func (f *fakeQuoter) GetPrice(ctx context.Context, symbol string) (*marketdata.Quote, error) {
	if f.err != nil {
		return nil, f.err
	}
	q, ok := f.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (f *fakeQuoter) GetPrices(ctx context.Context, symbols []string) ([]*marketdata.Quote, error) {
	out := make([]*marketdata.Quote, 0, len(symbols))
	for _, s := range symbols {
		q, err := f.GetPrice(ctx, s)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// scriptStep is one canned model turn.
type scriptStep struct {
	text string
	err  error
}

// scriptedCompleter replays a fixed sequence of model replies.
type scriptedCompleter struct {
	steps     []scriptStep
	calls     int
	prompts   []string
	deadlines []time.Time
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt string, augment bool) (*llmclient.Completion, error) {
	s.prompts = append(s.prompts, prompt)
	if d, ok := ctx.Deadline(); ok {
		s.deadlines = append(s.deadlines, d)
	}
	if s.calls >= len(s.steps) {
		return nil, fmt.Errorf("scripted completer exhausted after %d calls", s.calls)
	}
	step := s.steps[s.calls]
	s.calls++
	if step.err != nil {
		return nil, step.err
	}
	return &llmclient.Completion{Text: step.text}, nil
}

func replyJSON(thought, tool string, params string) string {
	return fmt.Sprintf(`{"thought": %q, "action": {"tool_name": %q, "parameters": %s}}`, thought, tool, params)
}

func quoteFor(symbol, price string) *marketdata.Quote {
	return &marketdata.Quote{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(price),
		Currency:   "USD",
		MarketInfo: "NasdaqGS (REGULAR)",
	}
}
