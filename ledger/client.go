package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/martinemde/autovest/secrets"
)

// Client reads and writes one spreadsheet through the Sheets values API.
type Client struct {
	http          *resty.Client
	spreadsheetID string
	tokens        secrets.TokenSource
	log           *slog.Logger
	now           func() time.Time
}

// NewClient creates a ledger client for the given spreadsheet.
func NewClient(spreadsheetID string, tokens secrets.TokenSource, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	http := resty.New()
	http.SetBaseURL("https://sheets.googleapis.com/v4/spreadsheets")
	http.SetTimeout(30 * time.Second)
	return &Client{
		http:          http,
		spreadsheetID: spreadsheetID,
		tokens:        tokens,
		log:           log,
		now:           time.Now,
	}
}

// SetBaseURL points the client at a different API host. Used in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.http.SetBaseURL(baseURL)
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets token: %w", err)
	}
	return c.http.R().SetContext(ctx).SetAuthToken(token), nil
}

type spreadsheetMeta struct {
	Sheets []struct {
		Properties struct {
			SheetID int    `json:"sheetId"`
			Title   string `json:"title"`
		} `json:"properties"`
	} `json:"sheets"`
}

// ListSheets returns the titles of all worksheets in the spreadsheet.
func (c *Client) ListSheets(ctx context.Context) ([]string, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var meta spreadsheetMeta
	resp, err := req.
		SetQueryParam("fields", "sheets.properties").
		SetResult(&meta).
		Get("/" + c.spreadsheetID)
	if err != nil {
		return nil, fmt.Errorf("list sheets: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("list sheets: status %d: %s", resp.StatusCode(), resp.String())
	}

	titles := make([]string, 0, len(meta.Sheets))
	for _, s := range meta.Sheets {
		titles = append(titles, s.Properties.Title)
	}
	return titles, nil
}

type valuesResponse struct {
	Values [][]interface{} `json:"values"`
}

func (c *Client) getValues(ctx context.Context, rangeNotation string) ([][]interface{}, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}

	var parsed valuesResponse
	resp, err := req.
		SetResult(&parsed).
		Get("/" + c.spreadsheetID + "/values/" + url.PathEscape(rangeNotation))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rangeNotation, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("get %s: status %d: %s", rangeNotation, resp.StatusCode(), resp.String())
	}
	return parsed.Values, nil
}

// GetCell reads a single cell ("Sheet Name!B3") and returns its rendered value.
func (c *Client) GetCell(ctx context.Context, notation string) (string, error) {
	if _, _, err := splitNotation(notation); err != nil {
		return "", err
	}
	values, err := c.getValues(ctx, notation)
	if err != nil {
		return "", err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return "", nil
	}
	return fmt.Sprint(values[0][0]), nil
}

// GetRange reads a rectangular range and returns rendered values as strings.
func (c *Client) GetRange(ctx context.Context, notation string) ([][]string, error) {
	if _, _, err := splitNotation(notation); err != nil {
		return nil, err
	}
	values, err := c.getValues(ctx, notation)
	if err != nil {
		return nil, err
	}

	grid := make([][]string, len(values))
	for i, row := range values {
		grid[i] = make([]string, len(row))
		for j, cell := range row {
			grid[i][j] = fmt.Sprint(cell)
		}
	}
	return grid, nil
}

// UpdateCell writes one value into a cell with USER_ENTERED semantics, so
// formulas and currency strings behave as if typed into the sheet.
func (c *Client) UpdateCell(ctx context.Context, notation string, value interface{}) error {
	if _, _, err := splitNotation(notation); err != nil {
		return err
	}
	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	resp, err := req.
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetBody(map[string]interface{}{"values": [][]interface{}{{value}}}).
		Put("/" + c.spreadsheetID + "/values/" + url.PathEscape(notation))
	if err != nil {
		return fmt.Errorf("update %s: %w", notation, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("update %s: status %d: %s", notation, resp.StatusCode(), resp.String())
	}
	c.log.Info("updated cell", "notation", notation)
	return nil
}

// rowCount returns the number of occupied rows in a sheet's first column.
func (c *Client) rowCount(ctx context.Context, sheet string) (int, error) {
	values, err := c.getValues(ctx, sheet+"!A:A")
	if err != nil {
		return 0, err
	}
	return len(values), nil
}

// AppendTransaction appends one trade row, with its running-balance
// formulas, to the transactions tab.
func (c *Client) AppendTransaction(ctx context.Context, tx Transaction) error {
	count, err := c.rowCount(ctx, TransactionsSheet)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	nextRow := count + 1
	row := transactionRow(tx, nextRow, c.now())

	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetBody(map[string]interface{}{"values": [][]interface{}{row}}).
		Post("/" + c.spreadsheetID + "/values/" + url.PathEscape(TransactionsSheet+"!A:Q") + ":append")
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("append transaction: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.log.Info("transaction logged",
		"action", tx.Action, "symbol", tx.Symbol,
		"quantity", tx.Quantity, "price", tx.Price)
	return nil
}

// summaryColumns are the OSV summary headers backing Position fields.
var summaryColumns = []string{
	"Stock Ticker",
	"Shares",
	"Cost Per Share",
	"Last Price",
	"Mkt Value",
	"Unrealized Gain/Loss",
}

// PortfolioSnapshot reads current holdings from the summary tab. Rows
// without a ticker are skipped; unparseable numbers default to zero rather
// than failing the whole snapshot.
func (c *Client) PortfolioSnapshot(ctx context.Context) ([]Position, error) {
	grid, err := c.GetRange(ctx, SummarySheet+"!A1:Z")
	if err != nil {
		return nil, fmt.Errorf("portfolio snapshot: %w", err)
	}
	if len(grid) < 2 {
		return nil, nil
	}

	cols := make(map[string]int, len(summaryColumns))
	for _, name := range summaryColumns {
		cols[name] = -1
	}
	for i, header := range grid[0] {
		if _, ok := cols[header]; ok {
			cols[header] = i
		}
	}
	if cols["Stock Ticker"] < 0 {
		return nil, fmt.Errorf("portfolio snapshot: %s has no %q column", SummarySheet, "Stock Ticker")
	}

	cell := func(row []string, name string) string {
		idx := cols[name]
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return row[idx]
	}
	num := func(row []string, name string) decimal.Decimal {
		value, err := ParseCurrency(cell(row, name))
		if err != nil {
			return decimal.Zero
		}
		return value
	}

	var positions []Position
	for _, row := range grid[1:] {
		symbol := strings.TrimSpace(cell(row, "Stock Ticker"))
		if symbol == "" {
			continue
		}
		positions = append(positions, Position{
			Symbol:       symbol,
			Quantity:     num(row, "Shares"),
			AverageCost:  num(row, "Cost Per Share"),
			LastPrice:    num(row, "Last Price"),
			MarketValue:  num(row, "Mkt Value"),
			UnrealizedPL: num(row, "Unrealized Gain/Loss"),
		})
	}
	return positions, nil
}

// TransactionHistory returns the recorded transactions for one symbol, in
// sheet order.
func (c *Client) TransactionHistory(ctx context.Context, symbol string) ([]TransactionRecord, error) {
	grid, err := c.GetRange(ctx, TransactionsSheet+"!A:Q")
	if err != nil {
		return nil, fmt.Errorf("transaction history: %w", err)
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var records []TransactionRecord
	for _, row := range grid {
		if len(row) < 5 || strings.ToUpper(strings.TrimSpace(at(row, 2))) != symbol {
			continue
		}
		quantity, _ := ParseCurrency(at(row, 3))
		price, _ := ParseCurrency(at(row, 4))
		records = append(records, TransactionRecord{
			Date:      at(row, 0),
			Action:    at(row, 1),
			Symbol:    symbol,
			Quantity:  quantity,
			Price:     price,
			Rationale: at(row, 16),
		})
	}
	return records, nil
}

func at(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// CreateWorksheet adds a new tab. Already-existing tabs are not an error.
func (c *Client) CreateWorksheet(ctx context.Context, title string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetBody(map[string]interface{}{
			"requests": []map[string]interface{}{
				{"addSheet": map[string]interface{}{
					"properties": map[string]interface{}{
						"title":          title,
						"gridProperties": map[string]int{"rowCount": 100, "columnCount": 20},
					},
				}},
			},
		}).
		Post("/" + c.spreadsheetID + ":batchUpdate")
	if err != nil {
		return fmt.Errorf("create worksheet %s: %w", title, err)
	}
	if resp.StatusCode() != 200 {
		if strings.Contains(resp.String(), "already exists") {
			return nil
		}
		return fmt.Errorf("create worksheet %s: status %d: %s", title, resp.StatusCode(), resp.String())
	}
	return nil
}

// DeleteWorksheet removes a tab by title. Unknown titles are not an error.
func (c *Client) DeleteWorksheet(ctx context.Context, title string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	var meta spreadsheetMeta
	resp, err := req.
		SetQueryParam("fields", "sheets.properties").
		SetResult(&meta).
		Get("/" + c.spreadsheetID)
	if err != nil {
		return fmt.Errorf("delete worksheet %s: %w", title, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("delete worksheet %s: status %d", title, resp.StatusCode())
	}

	sheetID := -1
	for _, s := range meta.Sheets {
		if s.Properties.Title == title {
			sheetID = s.Properties.SheetID
			break
		}
	}
	if sheetID < 0 {
		return nil
	}

	req, err = c.request(ctx)
	if err != nil {
		return err
	}
	resp, err = req.
		SetBody(map[string]interface{}{
			"requests": []map[string]interface{}{
				{"deleteSheet": map[string]int{"sheetId": sheetID}},
			},
		}).
		Post("/" + c.spreadsheetID + ":batchUpdate")
	if err != nil {
		return fmt.Errorf("delete worksheet %s: %w", title, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("delete worksheet %s: status %d: %s", title, resp.StatusCode(), resp.String())
	}
	return nil
}
