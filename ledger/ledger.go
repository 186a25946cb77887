// Package ledger is the client for the spreadsheet system of record. The
// spreadsheet follows the OSV portfolio template: a summary tab with open
// positions, a transactions tab whose rows carry running-balance formulas,
// and a cash-on-hand cell the agent updates when a trade commits.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Worksheet tab names in the OSV template.
const (
	SummarySheet      = "Summary_OSV"
	TransactionsSheet = "Transactions_OSV"
)

// TransactionFee is the flat per-transaction fee recorded in column F.
var TransactionFee = decimal.NewFromInt(3)

// Position is a read-mostly snapshot of one holding from the summary tab.
type Position struct {
	Symbol       string          `json:"Symbol"`
	Quantity     decimal.Decimal `json:"Quantity"`
	AverageCost  decimal.Decimal `json:"Average Cost"`
	LastPrice    decimal.Decimal `json:"Current Price"`
	MarketValue  decimal.Decimal `json:"Market Value"`
	UnrealizedPL decimal.Decimal `json:"Unrealized P/L"`
}

// Transaction is one trade to be appended to the transactions tab.
type Transaction struct {
	Symbol    string
	Action    string // "BUY" or "SELL"
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Rationale string
}

// TransactionRecord is one historical row read back from the transactions tab.
type TransactionRecord struct {
	Date      string
	Action    string
	Symbol    string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Rationale string
}

// ParseCurrency strips currency formatting ("$1,234.56") and parses the
// remainder as a decimal.
func ParseCurrency(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty currency value %q", raw)
	}
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse currency %q: %w", raw, err)
	}
	return value, nil
}

// splitNotation splits "Sheet Name!B3" into sheet and cell components.
func splitNotation(notation string) (sheet, cell string, err error) {
	idx := strings.LastIndex(notation, "!")
	if idx <= 0 || idx == len(notation)-1 {
		return "", "", fmt.Errorf("invalid cell notation %q", notation)
	}
	return notation[:idx], notation[idx+1:], nil
}

// transactionDate formats the date column the way the template expects.
func transactionDate(now time.Time) string {
	return now.UTC().Format("01/02/2006")
}
