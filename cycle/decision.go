package cycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradeAction is the verb of a final decision.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// defaultRationale fills in when the model gives no justification.
const defaultRationale = "No investment rationale provided."

// Decision is the terminal output of a cycle: at most one trade, or an
// explicit hold.
type Decision struct {
	Action      TradeAction
	Symbol      string
	Quantity    decimal.Decimal
	TargetPrice decimal.Decimal
	Rationale   string
}

// IsTrade reports whether the decision commits a transaction.
func (d *Decision) IsTrade() bool {
	return d.Action == ActionBuy || d.Action == ActionSell
}

// holdDecision builds the forced-exit decision used by the guards.
func holdDecision(rationale string) *Decision {
	return &Decision{Action: ActionHold, Rationale: rationale}
}

// decisionFromParams interprets final_decision parameters. Missing or
// unrecognized fields fall back to a hold with a stock rationale rather than
// failing the cycle.
func decisionFromParams(params map[string]interface{}) (*Decision, error) {
	d := &Decision{
		Action:    ActionHold,
		Rationale: defaultRationale,
	}

	if raw, ok := params["action"]; ok {
		s := strings.ToUpper(strings.TrimSpace(stringParam(raw)))
		switch TradeAction(s) {
		case ActionBuy, ActionSell, ActionHold:
			d.Action = TradeAction(s)
		case "":
			// keep hold default
		default:
			return nil, fmt.Errorf("unknown action %q", s)
		}
	}
	if raw, ok := params["symbol"]; ok {
		d.Symbol = strings.ToUpper(strings.TrimSpace(stringParam(raw)))
	}
	if raw, ok := params["rationale"]; ok {
		if s := strings.TrimSpace(stringParam(raw)); s != "" {
			d.Rationale = s
		}
	}

	var err error
	if d.Quantity, err = decimalParam(params, "quantity"); err != nil {
		return nil, err
	}
	if d.TargetPrice, err = decimalParam(params, "target_price"); err != nil {
		return nil, err
	}

	if d.IsTrade() {
		if d.Symbol == "" {
			return nil, fmt.Errorf("%s decision missing symbol", d.Action)
		}
		if !d.Quantity.IsPositive() {
			return nil, fmt.Errorf("%s decision requires positive quantity, got %s", d.Action, d.Quantity)
		}
		if !d.TargetPrice.IsPositive() {
			return nil, fmt.Errorf("%s decision requires positive target_price, got %s", d.Action, d.TargetPrice)
		}
	}
	return d, nil
}

// stringParam renders any JSON-decoded scalar as a string.
func stringParam(raw interface{}) string {
	switch v := raw.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// decimalParam reads a numeric parameter that the model may send as a JSON
// number or as a quoted string.
func decimalParam(params map[string]interface{}, key string) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return decimal.Zero, nil
	}
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parameter %q: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("parameter %q has unsupported type %T", key, raw)
	}
}
