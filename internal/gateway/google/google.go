// Package google stores the ledger in a Google Sheets spreadsheet, one tab
// each for expenses, fund transactions and fund member balances.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"cassa/internal/core"
	"cassa/internal/gateway"
)

const (
	DefaultExpensesSheet = "Expenses"
	DefaultFundSheet     = "FundTransactions"
	DefaultMembersSheet  = "FundMembers"
)

// Column widths of each tab: A:K, A:I and A:D.
const (
	expenseColumns     = 11
	transactionColumns = 9
	memberColumns      = 4
)

// Config selects the spreadsheet and tabs. Credentials fall back to
// GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE and
// GOOGLE_APPLICATION_CREDENTIALS when both fields are empty.
type Config struct {
	SpreadsheetID   string
	ExpensesSheet   string
	FundSheet       string
	MembersSheet    string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	expensesSheet string
	fundSheet     string
	membersSheet  string
}

var (
	_ gateway.Store  = (*Client)(nil)
	_ gateway.Pinger = (*Client)(nil)
)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := credentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID)
	return NewWithService(svc, cfg), nil
}

// NewWithService wraps an existing service; tests point it at a fake server.
func NewWithService(svc *gsheet.Service, cfg Config) *Client {
	name := func(v, def string) string {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
		return def
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		expensesSheet: name(cfg.ExpensesSheet, DefaultExpensesSheet),
		fundSheet:     name(cfg.FundSheet, DefaultFundSheet),
		membersSheet:  name(cfg.MembersSheet, DefaultMembersSheet),
	}
}

func credentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		inline = strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
		file = strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	}
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading service account credentials", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet %s: %w", c.spreadsheetID, err)
	}
	return nil
}

func (c *Client) LoadExpenses(ctx context.Context) ([]core.Expense, error) {
	grids, err := c.read(ctx, c.expensesSheet+"!A1:"+columnName(expenseColumns))
	if err != nil {
		return nil, err
	}
	var out []core.Expense
	for i, row := range grids[0] {
		if isBlank(row) || (i == 0 && isHeader(row, expenseHeader)) {
			continue
		}
		e, err := decodeExpense(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", c.expensesSheet, i+1, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) SaveExpenses(ctx context.Context, expenses []core.Expense) error {
	rows := make([][]any, 0, len(expenses)+1)
	rows = append(rows, expenseHeader)
	for _, e := range expenses {
		rows = append(rows, encodeExpense(e))
	}
	return c.replace(ctx, tab{name: c.expensesSheet, columns: expenseColumns, rows: rows})
}

func (c *Client) LoadFund(ctx context.Context) (core.FundState, error) {
	grids, err := c.read(ctx,
		c.fundSheet+"!A1:"+columnName(transactionColumns),
		c.membersSheet+"!A1:"+columnName(memberColumns))
	if err != nil {
		return core.FundState{}, err
	}

	state := core.FundState{}
	for i, row := range grids[0] {
		if isBlank(row) || (i == 0 && isHeader(row, transactionHeader)) {
			continue
		}
		t, err := decodeTransaction(row)
		if err != nil {
			return core.FundState{}, fmt.Errorf("%s row %d: %w", c.fundSheet, i+1, err)
		}
		state.Transactions = append(state.Transactions, t)
	}

	state.Balance, state.MemberBalances, err = decodeMembers(grids[1])
	if err != nil {
		return core.FundState{}, fmt.Errorf("%s: %w", c.membersSheet, err)
	}
	return state, nil
}

func (c *Client) SaveFund(ctx context.Context, state core.FundState) error {
	txRows := make([][]any, 0, len(state.Transactions)+1)
	txRows = append(txRows, transactionHeader)
	for _, t := range state.Transactions {
		txRows = append(txRows, encodeTransaction(t))
	}
	return c.replace(ctx,
		tab{name: c.fundSheet, columns: transactionColumns, rows: txRows},
		tab{name: c.membersSheet, columns: memberColumns, rows: encodeMembers(state)},
	)
}

// read fetches the given ranges unformatted, one grid per range.
func (c *Client) read(ctx context.Context, ranges ...string) ([][][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.BatchGet(c.spreadsheetID).
		Ranges(ranges...).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", strings.Join(ranges, ", "), err)
	}
	if len(resp.ValueRanges) != len(ranges) {
		return nil, fmt.Errorf("read %s: got %d ranges, want %d", strings.Join(ranges, ", "), len(resp.ValueRanges), len(ranges))
	}
	grids := make([][][]any, len(ranges))
	for i, vr := range resp.ValueRanges {
		grids[i] = vr.Values
	}
	return grids, nil
}

type tab struct {
	name    string
	columns int
	rows    [][]any
}

// replace rewrites every tab from A1 in a single batch update. Rows left over
// from a longer previous save are overwritten with blanks in the same
// request, so a failed write leaves the stored rows as they were.
func (c *Client) replace(ctx context.Context, tabs ...tab) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	names := make([]string, len(tabs))
	counts := make([]string, len(tabs))
	for i, t := range tabs {
		names[i] = t.name
		counts[i] = t.name + "!A:A"
	}
	existing, err := c.read(ctx, counts...)
	if err != nil {
		return fmt.Errorf("size %s: %w", strings.Join(names, ", "), err)
	}

	update := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for i, t := range tabs {
		update.Data = append(update.Data, &gsheet.ValueRange{
			Range:  t.name + "!A1",
			Values: padRows(t.rows, len(existing[i]), t.columns),
		})
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, update).Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", strings.Join(names, ", "), err)
	}
	slog.DebugContext(ctx, "Sheets tabs rewritten", "tabs", names)
	return nil
}

// padRows widens every row to columns cells and appends blank rows until at
// least minRows rows are written.
func padRows(rows [][]any, minRows, columns int) [][]any {
	n := max(len(rows), minRows)
	out := make([][]any, n)
	for i := range out {
		row := make([]any, columns)
		for j := range row {
			row[j] = ""
		}
		if i < len(rows) {
			copy(row, rows[i])
		}
		out[i] = row
	}
	return out
}

// columnName converts a 1-based column index to its letter (1 -> A).
func columnName(n int) string {
	name := ""
	for n > 0 {
		n--
		name = string(rune('A'+n%26)) + name
		n /= 26
	}
	return name
}
