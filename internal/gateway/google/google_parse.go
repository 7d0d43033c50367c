package google

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"cassa/internal/core"
)

var (
	expenseHeader     = []any{"ID", "Name", "Amount", "Date", "Payer kind", "Payer member", "Participants", "Split mode", "Manual splits", "Created at", "Updated at"}
	transactionHeader = []any{"ID", "Type", "Amount", "Date", "Datetime", "Member", "Note", "Expense ID", "Expense name"}
	membersHeader     = []any{"Member", "Balance", "Fund balance"}
)

func encodeExpense(e core.Expense) []any {
	member, _ := e.Payer.Member()
	participants := make([]string, len(e.Participants))
	for i, p := range e.Participants {
		participants[i] = string(p)
	}
	return []any{
		e.ID,
		e.Name,
		int64(e.Amount),
		e.Date.String(),
		e.Payer.Kind(),
		string(member),
		strings.Join(participants, ","),
		string(e.SplitMode),
		formatSplits(e.ManualSplits),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	}
}

func decodeExpense(row []any) (core.Expense, error) {
	cols := toStrings(row)
	e := core.Expense{ID: safeGet(cols, 0), Name: safeGet(cols, 1)}
	if e.ID == "" {
		return core.Expense{}, fmt.Errorf("missing id")
	}

	amount, err := parseInt(safeGet(cols, 2))
	if err != nil {
		return core.Expense{}, fmt.Errorf("amount: %w", err)
	}
	e.Amount = core.Money(amount)

	if d := safeGet(cols, 3); d != "" {
		if e.Date, err = core.ParseDate(d); err != nil {
			return core.Expense{}, err
		}
	}
	if e.Payer, err = core.ParsePayer(safeGet(cols, 4), safeGet(cols, 5)); err != nil {
		return core.Expense{}, err
	}
	for _, p := range strings.Split(safeGet(cols, 6), ",") {
		if p = strings.TrimSpace(p); p != "" {
			e.Participants = append(e.Participants, core.MemberID(p))
		}
	}
	e.SplitMode = core.SplitMode(safeGet(cols, 7))
	if e.SplitMode == "" {
		e.SplitMode = core.SplitEqual
	}
	if e.SplitMode == core.SplitManual {
		if e.ManualSplits, err = parseSplits(safeGet(cols, 8)); err != nil {
			return core.Expense{}, fmt.Errorf("manual splits: %w", err)
		}
	}
	if e.CreatedAt, err = parseTime(safeGet(cols, 9)); err != nil {
		return core.Expense{}, fmt.Errorf("created at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(safeGet(cols, 10)); err != nil {
		return core.Expense{}, fmt.Errorf("updated at: %w", err)
	}
	return e, nil
}

func encodeTransaction(t core.FundTransaction) []any {
	return []any{
		t.ID,
		string(t.Type),
		int64(t.Amount),
		t.Date.String(),
		formatTime(t.DateTime),
		string(t.Member),
		t.Note,
		t.ExpenseID,
		t.ExpenseName,
	}
}

func decodeTransaction(row []any) (core.FundTransaction, error) {
	cols := toStrings(row)
	t := core.FundTransaction{
		ID:          safeGet(cols, 0),
		Type:        core.TransactionType(safeGet(cols, 1)),
		Member:      core.MemberID(safeGet(cols, 5)),
		Note:        safeGet(cols, 6),
		ExpenseID:   safeGet(cols, 7),
		ExpenseName: safeGet(cols, 8),
	}
	if t.ID == "" {
		return core.FundTransaction{}, fmt.Errorf("missing id")
	}
	if !t.Type.IsValid() {
		return core.FundTransaction{}, fmt.Errorf("unknown type %q", t.Type)
	}
	amount, err := parseInt(safeGet(cols, 2))
	if err != nil {
		return core.FundTransaction{}, fmt.Errorf("amount: %w", err)
	}
	t.Amount = core.Money(amount)
	if d := safeGet(cols, 3); d != "" {
		if t.Date, err = core.ParseDate(d); err != nil {
			return core.FundTransaction{}, err
		}
	}
	if t.DateTime, err = parseTime(safeGet(cols, 4)); err != nil {
		return core.FundTransaction{}, fmt.Errorf("datetime: %w", err)
	}
	return t, nil
}

// encodeMembers lays out the members tab: the header row carries the fund
// balance in its third column, then one row per member sorted by id.
func encodeMembers(state core.FundState) [][]any {
	ids := make([]string, 0, len(state.MemberBalances))
	for m := range state.MemberBalances {
		ids = append(ids, string(m))
	}
	sort.Strings(ids)

	header := append(append([]any(nil), membersHeader...), state.Balance)
	rows := [][]any{header}
	for _, id := range ids {
		rows = append(rows, []any{id, state.MemberBalances[core.MemberID(id)]})
	}
	return rows
}

func decodeMembers(rows [][]any) (int64, map[core.MemberID]int64, error) {
	balances := make(map[core.MemberID]int64)
	if len(rows) == 0 {
		return 0, balances, nil
	}

	header := toStrings(rows[0])
	var balance int64
	if v := safeGet(header, len(membersHeader)); v != "" {
		b, err := parseInt(v)
		if err != nil {
			return 0, nil, fmt.Errorf("fund balance: %w", err)
		}
		balance = b
	}

	for i, row := range rows[1:] {
		cols := toStrings(row)
		member := safeGet(cols, 0)
		if member == "" {
			continue
		}
		b, err := parseInt(safeGet(cols, 1))
		if err != nil {
			return 0, nil, fmt.Errorf("row %d member %s: %w", i+2, member, err)
		}
		balances[core.MemberID(member)] = b
	}
	return balance, balances, nil
}

// formatSplits renders "G=700;Q=300" with members sorted.
func formatSplits(splits map[core.MemberID]core.Money) string {
	if len(splits) == 0 {
		return ""
	}
	parts := make([]string, 0, len(splits))
	for m, v := range splits {
		parts = append(parts, fmt.Sprintf("%s=%d", m, int64(v)))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}

func parseSplits(s string) (map[core.MemberID]core.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	out := make(map[core.MemberID]core.Money)
	for _, part := range strings.Split(s, ";") {
		member, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(member) == "" {
			return nil, fmt.Errorf("malformed entry %q", part)
		}
		v, err := parseInt(value)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", part, err)
		}
		out[core.MemberID(strings.TrimSpace(member))] = core.Money(v)
	}
	return out, nil
}

// parseInt accepts plain integers and the float renderings Sheets returns
// for whole numbers ("300000", "3e+05").
func parseInt(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	return int64(f), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// toStrings renders cells without losing integer precision: Sheets hands
// numbers back as float64.
func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) && math.Abs(n) <= 1<<53 {
				out[i] = strconv.FormatInt(int64(n), 10)
				continue
			}
			out[i] = strconv.FormatFloat(n, 'f', -1, 64)
		case nil:
			out[i] = ""
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

// isBlank reports whether every cell of row is empty. Rows blanked by a
// shorter save come back this way.
func isBlank(row []any) bool {
	for _, v := range toStrings(row) {
		if v != "" {
			return false
		}
	}
	return true
}

func isHeader(row []any, header []any) bool {
	return len(row) > 0 && len(header) > 0 && fmt.Sprint(row[0]) == fmt.Sprint(header[0])
}
