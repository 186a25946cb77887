package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// FinalDecisionTool is the terminal tool name the orchestrator intercepts.
const FinalDecisionTool = "final_decision"

// Collaborators bundles the external services the standard tool set calls.
type Collaborators struct {
	Ledger   Ledger
	Searcher Searcher
	Quoter   Quoter
}

// NewStandardRegistry builds the full tool set offered to the model: the
// spreadsheet tools, web search, price lookups, and the declaration-only
// final_decision tool.
func NewStandardRegistry(c Collaborators) *Registry {
	r := NewRegistry()

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "sheets_get_cell_value",
			Description: "Read a single cell from the portfolio spreadsheet using A1 notation, e.g. 'Summary_OSV!B3'.",
			Params:      []string{"cell_notation"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			notation, err := requireString(params, "cell_notation")
			if err != nil {
				return "", err
			}
			value, err := c.Ledger.GetCell(ctx, notation)
			if err != nil {
				return "", err
			}
			if value == "" {
				return fmt.Sprintf("Cell %s is empty.", notation), nil
			}
			return fmt.Sprintf("Value of %s: %s", notation, value), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "sheets_get_range_values",
			Description: "Read a rectangular range from the spreadsheet using A1 notation, e.g. 'Summary_OSV!A1:F20'.",
			Params:      []string{"range_notation"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			notation, err := requireString(params, "range_notation")
			if err != nil {
				return "", err
			}
			rows, err := c.Ledger.GetRange(ctx, notation)
			if err != nil {
				return "", err
			}
			if len(rows) == 0 {
				return fmt.Sprintf("Range %s is empty.", notation), nil
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Values of %s:\n", notation)
			for _, row := range rows {
				b.WriteString(strings.Join(row, " | "))
				b.WriteString("\n")
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "sheets_update_cell_value",
			Description: "Write a value into a single spreadsheet cell using A1 notation. Formulas starting with '=' are evaluated.",
			Params:      []string{"cell_notation", "value"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			notation, err := requireString(params, "cell_notation")
			if err != nil {
				return "", err
			}
			value, ok := params["value"]
			if !ok {
				return "", fmt.Errorf("missing required parameter %q", "value")
			}
			if err := c.Ledger.UpdateCell(ctx, notation, value); err != nil {
				return "", err
			}
			return fmt.Sprintf("Updated %s to %v.", notation, value), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "sheets_list_worksheets",
			Description: "List the worksheet tabs in the portfolio spreadsheet.",
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			names, err := c.Ledger.ListSheets(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Worksheets: %s", strings.Join(names, ", ")), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "sheets_get_transaction_history",
			Description: "Return past transactions for one ticker symbol from the transaction ledger.",
			Params:      []string{"symbol"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			symbol, err := requireString(params, "symbol")
			if err != nil {
				return "", err
			}
			records, err := c.Ledger.TransactionHistory(ctx, symbol)
			if err != nil {
				return "", err
			}
			if len(records) == 0 {
				return fmt.Sprintf("No transactions found for %s.", strings.ToUpper(symbol)), nil
			}
			encoded, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Transaction history for %s:\n%s", strings.ToUpper(symbol), encoded), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "web_search",
			Description: "Search the web for market news and analysis. Returns the top results with titles, snippets and URLs.",
			Params:      []string{"query"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			query, err := requireString(params, "query")
			if err != nil {
				return "", err
			}
			return c.Searcher.Search(ctx, query)
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "get_stock_price",
			Description: "Get the current market price for one ticker symbol.",
			Params:      []string{"symbol"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			symbol, err := requireString(params, "symbol")
			if err != nil {
				return "", err
			}
			q, err := c.Quoter.GetPrice(ctx, symbol)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s: %s %s (%s)", q.Symbol, q.Price, q.Currency, q.MarketInfo), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        "get_multiple_stock_prices",
			Description: "Get current market prices for several ticker symbols at once. 'symbols' is a list of tickers.",
			Params:      []string{"symbols"},
		},
		Executor: func(ctx context.Context, params map[string]interface{}) (string, error) {
			symbols, err := requireStringList(params, "symbols")
			if err != nil {
				return "", err
			}
			quotes, err := c.Quoter.GetPrices(ctx, symbols)
			if err != nil {
				return "", err
			}
			var b strings.Builder
			for _, q := range quotes {
				fmt.Fprintf(&b, "%s: %s %s (%s)\n", q.Symbol, q.Price, q.Currency, q.MarketInfo)
			}
			return strings.TrimRight(b.String(), "\n"), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: ToolDefinition{
			Name:        FinalDecisionTool,
			Description: "Commit the final decision for this cycle: BUY or SELL exactly one position, or HOLD. This ends the cycle.",
			Params:      []string{"action", "symbol", "quantity", "target_price", "rationale"},
		},
		// No executor: the orchestrator intercepts this tool.
	})

	return r
}

// requireString pulls a mandatory non-empty string parameter.
func requireString(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	s := strings.TrimSpace(stringParam(raw))
	if s == "" {
		return "", fmt.Errorf("parameter %q must be a non-empty string", key)
	}
	return s, nil
}

// requireStringList pulls a mandatory list-of-strings parameter. A single
// string or a comma-separated string is accepted as a one-or-more list.
func requireStringList(params map[string]interface{}, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing required parameter %q", key)
	}
	var items []string
	switch v := raw.(type) {
	case []interface{}:
		for _, elem := range v {
			items = append(items, strings.TrimSpace(stringParam(elem)))
		}
	case []string:
		for _, elem := range v {
			items = append(items, strings.TrimSpace(elem))
		}
	case string:
		for _, elem := range strings.Split(v, ",") {
			items = append(items, strings.TrimSpace(elem))
		}
	default:
		return nil, fmt.Errorf("parameter %q must be a list of symbols", key)
	}
	out := items[:0]
	for _, s := range items {
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parameter %q must contain at least one symbol", key)
	}
	return out, nil
}
