package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cassa/internal/core"
	"cassa/internal/gateway"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists the ledger in a local SQLite database. Every
// save replaces the stored rows inside one transaction.
type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ gateway.Store       = (*SQLiteRepository)(nil)
	_ gateway.AtomicSaver = (*SQLiteRepository)(nil)
	_ gateway.Pinger      = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite repository ready", "path", dbPath, "schema_version", version)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// LoadExpenses returns expenses in stored order.
func (r *SQLiteRepository) LoadExpenses(ctx context.Context) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, amount, date, payer_kind, payer_member, split_mode, created_at, updated_at
		FROM expenses ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []core.Expense
	index := make(map[string]int)
	for rows.Next() {
		var (
			e                    core.Expense
			date, kind, mode     string
			member               sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Amount, &date, &kind, &member, &mode, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		if e.Date, err = parseDate(date); err != nil {
			return nil, fmt.Errorf("expense %s: %w", e.ID, err)
		}
		if e.Payer, err = core.ParsePayer(kind, member.String); err != nil {
			return nil, fmt.Errorf("expense %s: %w", e.ID, err)
		}
		e.SplitMode = core.SplitMode(mode)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("expense %s created_at: %w", e.ID, err)
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, fmt.Errorf("expense %s updated_at: %w", e.ID, err)
		}
		index[e.ID] = len(expenses)
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}

	if err := r.loadParticipants(ctx, expenses, index); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (r *SQLiteRepository) loadParticipants(ctx context.Context, expenses []core.Expense, index map[string]int) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT expense_id, member, manual_amount
		FROM expense_participants ORDER BY expense_id, position`)
	if err != nil {
		return fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			expenseID, member string
			manual            sql.NullInt64
		)
		if err := rows.Scan(&expenseID, &member, &manual); err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		i, ok := index[expenseID]
		if !ok {
			continue
		}
		e := &expenses[i]
		e.Participants = append(e.Participants, core.MemberID(member))
		if e.SplitMode == core.SplitManual && manual.Valid {
			if e.ManualSplits == nil {
				e.ManualSplits = make(map[core.MemberID]core.Money)
			}
			e.ManualSplits[core.MemberID(member)] = core.Money(manual.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate participants: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SaveExpenses(ctx context.Context, expenses []core.Expense) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return replaceExpenses(ctx, tx, expenses)
	})
}

func (r *SQLiteRepository) LoadFund(ctx context.Context) (core.FundState, error) {
	state := core.FundState{MemberBalances: make(map[core.MemberID]int64)}

	err := r.db.QueryRowContext(ctx, `SELECT balance FROM fund_state WHERE id = 1`).Scan(&state.Balance)
	if err != nil && err != sql.ErrNoRows {
		return core.FundState{}, fmt.Errorf("query fund balance: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT member, balance FROM fund_member_balances ORDER BY member`)
	if err != nil {
		return core.FundState{}, fmt.Errorf("query member balances: %w", err)
	}
	for rows.Next() {
		var (
			member  string
			balance int64
		)
		if err := rows.Scan(&member, &balance); err != nil {
			rows.Close()
			return core.FundState{}, fmt.Errorf("scan member balance: %w", err)
		}
		state.MemberBalances[core.MemberID(member)] = balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return core.FundState{}, fmt.Errorf("iterate member balances: %w", err)
	}

	txRows, err := r.db.QueryContext(ctx, `
		SELECT id, type, amount, date, datetime, member, note, expense_id, expense_name
		FROM fund_transactions ORDER BY position`)
	if err != nil {
		return core.FundState{}, fmt.Errorf("query fund transactions: %w", err)
	}
	defer txRows.Close()
	for txRows.Next() {
		var (
			t             core.FundTransaction
			typ, date, dt string
			member        string
		)
		if err := txRows.Scan(&t.ID, &typ, &t.Amount, &date, &dt, &member, &t.Note, &t.ExpenseID, &t.ExpenseName); err != nil {
			return core.FundState{}, fmt.Errorf("scan fund transaction: %w", err)
		}
		t.Type = core.TransactionType(typ)
		t.Member = core.MemberID(member)
		if t.Date, err = parseDate(date); err != nil {
			return core.FundState{}, fmt.Errorf("fund transaction %s: %w", t.ID, err)
		}
		if t.DateTime, err = parseTime(dt); err != nil {
			return core.FundState{}, fmt.Errorf("fund transaction %s datetime: %w", t.ID, err)
		}
		state.Transactions = append(state.Transactions, t)
	}
	if err := txRows.Err(); err != nil {
		return core.FundState{}, fmt.Errorf("iterate fund transactions: %w", err)
	}
	return state, nil
}

func (r *SQLiteRepository) SaveFund(ctx context.Context, state core.FundState) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		return replaceFund(ctx, tx, state)
	})
}

// SaveAll writes expenses and fund in a single transaction.
func (r *SQLiteRepository) SaveAll(ctx context.Context, expenses []core.Expense, state core.FundState) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := replaceExpenses(ctx, tx, expenses); err != nil {
			return err
		}
		return replaceFund(ctx, tx, state)
	})
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func replaceExpenses(ctx context.Context, tx *sql.Tx, expenses []core.Expense) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM expense_participants`); err != nil {
		return fmt.Errorf("clear participants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expenses`); err != nil {
		return fmt.Errorf("clear expenses: %w", err)
	}

	insertExpense, err := tx.PrepareContext(ctx, `
		INSERT INTO expenses (id, position, name, amount, date, payer_kind, payer_member, split_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare expense insert: %w", err)
	}
	defer insertExpense.Close()

	insertParticipant, err := tx.PrepareContext(ctx, `
		INSERT INTO expense_participants (expense_id, member, position, manual_amount)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare participant insert: %w", err)
	}
	defer insertParticipant.Close()

	for i, e := range expenses {
		var payerMember sql.NullString
		if id, ok := e.Payer.Member(); ok {
			payerMember = sql.NullString{String: string(id), Valid: true}
		}
		if _, err := insertExpense.ExecContext(ctx,
			e.ID, i, e.Name, int64(e.Amount), e.Date.String(),
			e.Payer.Kind(), payerMember, string(e.SplitMode),
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert expense %s: %w", e.ID, err)
		}

		for j, p := range e.Participants {
			var manual sql.NullInt64
			if e.SplitMode == core.SplitManual {
				if v, ok := e.ManualSplits[p]; ok {
					manual = sql.NullInt64{Int64: int64(v), Valid: true}
				}
			}
			if _, err := insertParticipant.ExecContext(ctx, e.ID, string(p), j, manual); err != nil {
				return fmt.Errorf("insert participant %s of %s: %w", p, e.ID, err)
			}
		}
	}
	return nil
}

func replaceFund(ctx context.Context, tx *sql.Tx, state core.FundState) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fund_state (id, balance) VALUES (1, ?)
		 ON CONFLICT (id) DO UPDATE SET balance = excluded.balance`, state.Balance); err != nil {
		return fmt.Errorf("save fund balance: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_member_balances`); err != nil {
		return fmt.Errorf("clear member balances: %w", err)
	}
	for member, balance := range state.MemberBalances {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fund_member_balances (member, balance) VALUES (?, ?)`,
			string(member), balance); err != nil {
			return fmt.Errorf("insert member balance %s: %w", member, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM fund_transactions`); err != nil {
		return fmt.Errorf("clear fund transactions: %w", err)
	}
	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO fund_transactions (id, position, type, amount, date, datetime, member, note, expense_id, expense_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fund transaction insert: %w", err)
	}
	defer insert.Close()

	for i, t := range state.Transactions {
		if _, err := insert.ExecContext(ctx,
			t.ID, i, string(t.Type), int64(t.Amount), t.Date.String(), formatTime(t.DateTime),
			string(t.Member), t.Note, t.ExpenseID, t.ExpenseName,
		); err != nil {
			return fmt.Errorf("insert fund transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseDate(s string) (core.Date, error) {
	if s == "" {
		return core.Date{}, nil
	}
	return core.ParseDate(s)
}
