package cycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/ledger"
)

// buildObjective renders the fixed mission statement for one cycle,
// embedding the opening cash balance and a JSON snapshot of the portfolio.
func buildObjective(cash decimal.Decimal, portfolio []ledger.Position) string {
	snapshot, err := json.Marshal(portfolio)
	if err != nil {
		snapshot = []byte("[]")
	}
	return fmt.Sprintf(
		"Analyze the current portfolio, research relevant stocks, perform modeling, and conclude with a single trading decision. You must consider your available cash of $%s. Current portfolio: %s",
		formatMoney(cash), snapshot)
}

// seedObservation is the first history entry of a cycle.
func seedObservation(cash decimal.Decimal, sheets []string) string {
	return fmt.Sprintf("Observation: Cycle started with $%s cash. Visible sheets are: [%s]",
		formatMoney(cash), strings.Join(sheets, ", "))
}

// buildPrompt assembles the full reasoning prompt: role, objective, the
// (possibly truncated) history, the required reply format, and the tool list.
func buildPrompt(objective, history string, defs []ToolDefinition) string {
	var b strings.Builder

	b.WriteString("You are an autonomous investment agent managing a portfolio.\n\n")
	fmt.Fprintf(&b, "OBJECTIVE: %s\n", objective)
	fmt.Fprintf(&b, "PREVIOUS ACTIONS: %s\n\n", history)
	b.WriteString("Your task: Analyze the data and make your next decision. Return valid JSON only.\n\n")
	b.WriteString("JSON format required:\n")
	b.WriteString("{\n")
	b.WriteString("    \"thought\": \"your investment analysis\",\n")
	b.WriteString("    \"action\": {\n")
	b.WriteString("        \"tool_name\": \"name_of_tool_to_use\",\n")
	b.WriteString("        \"parameters\": {\"parameter_name\": \"parameter_value\"}\n")
	b.WriteString("    }\n")
	b.WriteString("}\n\n")
	b.WriteString("AVAILABLE TOOLS:\n")
	for i, def := range defs {
		fmt.Fprintf(&b, "%d. %s(%s): %s\n", i+1, def.Name, strings.Join(def.Params, ", "), def.Description)
	}
	b.WriteString("\nMake smart investment decisions based on current market data.\n")

	return b.String()
}

// formatMoney renders an amount with thousands separators and two decimal
// places, e.g. 12345.5 -> "12,345.50".
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.Index(s, ".")
	intPart, fracPart := s[:dot], s[dot:]
	var out strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(r)
	}
	if neg {
		return "-" + out.String() + fracPart
	}
	return out.String() + fracPart
}
