// Package ledger owns the expense collection and drives the pooled fund as
// expenses are added, edited and removed.
//
// Every mutation is staged on copies, written through the gateway and only
// then committed, so a rejected or failed operation leaves the ledger exactly
// as it was. Reload replaces all in-memory state with the stored truth.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"cassa/internal/core"
	"cassa/internal/fund"
	"cassa/internal/gateway"
	logx "cassa/internal/log"
	"cassa/internal/members"
	"cassa/internal/settlement"
)

type Ledger struct {
	mu       sync.RWMutex
	expenses map[string]core.Expense
	fund     *fund.Account
	revision uint64

	store  gateway.Store
	dir    members.Directory
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock sets the time source for expense and transaction timestamps.
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		l.now = fn
	}
}

// WithIDGenerator sets how expense and fund transaction ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) {
		l.newID = fn
	}
}

// New returns an empty ledger. Call Load to read the stored state.
func New(store gateway.Store, dir members.Directory, opts ...Option) *Ledger {
	l := &Ledger{
		expenses: make(map[string]core.Expense),
		store:    store,
		dir:      dir,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logx.FieldComponent, logx.ComponentLedger)
	l.fund = l.newAccount(core.FundState{})
	return l
}

func (l *Ledger) newAccount(state core.FundState) *fund.Account {
	return fund.FromState(state, fund.WithClock(l.now), fund.WithIDGenerator(l.newID))
}

// Load reads expenses and fund state from the gateway and replaces whatever
// is held in memory.
func (l *Ledger) Load(ctx context.Context) error {
	expenses, err := l.store.LoadExpenses(ctx)
	if err != nil {
		return &core.PersistenceError{Op: "load expenses", Err: err}
	}
	state, err := l.store.LoadFund(ctx)
	if err != nil {
		return &core.PersistenceError{Op: "load fund", Err: err}
	}

	byID := make(map[string]core.Expense, len(expenses))
	for _, e := range expenses {
		if _, dup := byID[e.ID]; dup {
			l.logger.WarnContext(ctx, "Duplicate expense id in stored data, keeping the last one",
				logx.FieldExpenseID, e.ID)
		}
		byID[e.ID] = e.Clone()
	}
	if state.MemberBalances == nil {
		state.MemberBalances = map[core.MemberID]int64{}
	}
	if err := fund.Verify(state); err != nil {
		l.logger.WarnContext(ctx, "Stored fund state failed self-check", logx.FieldError, err)
	}

	l.mu.Lock()
	l.expenses = byID
	l.fund = l.newAccount(state)
	l.revision++
	rev := l.revision
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "Ledger loaded",
		logx.FieldCount, len(byID),
		logx.FieldBalance, state.Balance,
		logx.FieldRevision, rev)
	return nil
}

// Reload re-derives all state from the gateway. Stored truth always wins.
func (l *Ledger) Reload(ctx context.Context) error {
	return l.Load(ctx)
}

// AddExpense validates in, draws from the fund when the fund pays and
// persists the result.
func (l *Ledger) AddExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	in = in.Normalize()
	if err := in.Validate(l.dir); err != nil {
		return core.Expense{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	e := core.Expense{ID: l.newID(), CreatedAt: now, UpdatedAt: now}
	e.Apply(in)

	nextFund := l.fund
	if e.Payer.IsFund() {
		if err := l.checkSufficient(l.fund.Balance(), e.Amount); err != nil {
			return core.Expense{}, err
		}
		nextFund = l.fund.Clone()
		nextFund.ApplyPayment(e.ID, e.Name, e.Amount, e.Date, e.Shares())
	}

	next := l.stage()
	next[e.ID] = e
	if err := l.persist(ctx, "add expense", next, nextFund, true, e.Payer.IsFund()); err != nil {
		return core.Expense{}, err
	}
	l.commit(next, nextFund)

	l.logger.InfoContext(ctx, "Expense added",
		logx.NewFields().
			WithExpense(e.ID, e.Name, int64(e.Amount), e.Payer.String()).
			WithOperation(logx.OpCreate).
			ToSlice()...)
	return e.Clone(), nil
}

// UpdateExpense replaces every mutable field of expense id. The payer moves
// between member and fund as a two state machine, and a fund payment that
// stays with the fund is rewritten in place as one transaction.
func (l *Ledger) UpdateExpense(ctx context.Context, id string, in core.ExpenseInput) (core.Expense, error) {
	in = in.Normalize()
	if err := in.Validate(l.dir); err != nil {
		return core.Expense{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.expenses[id]
	if !ok {
		return core.Expense{}, &core.NotFoundError{Kind: "expense", ID: id}
	}
	updated := old.Clone()
	updated.Apply(in)
	updated.UpdatedAt = l.now().UTC()

	nextFund, err := l.stageFundUpdate(ctx, old, updated)
	if err != nil {
		return core.Expense{}, err
	}
	fundChanged := nextFund != l.fund

	next := l.stage()
	next[id] = updated
	if err := l.persist(ctx, "update expense", next, nextFund, true, fundChanged); err != nil {
		return core.Expense{}, err
	}
	l.commit(next, nextFund)

	l.logger.InfoContext(ctx, "Expense updated",
		logx.NewFields().
			WithExpense(updated.ID, updated.Name, int64(updated.Amount), updated.Payer.String()).
			WithOperation(logx.OpUpdate).
			ToSlice()...)
	return updated.Clone(), nil
}

// stageFundUpdate returns the fund account as it should look after old
// becomes updated. It returns l.fund itself when the fund is not involved.
func (l *Ledger) stageFundUpdate(ctx context.Context, old, updated core.Expense) (*fund.Account, error) {
	wasFund, isFund := old.Payer.IsFund(), updated.Payer.IsFund()

	switch {
	case !wasFund && !isFund:
		return l.fund, nil

	case !wasFund && isFund:
		if err := l.checkSufficient(l.fund.Balance(), updated.Amount); err != nil {
			return nil, err
		}
		next := l.fund.Clone()
		next.ApplyPayment(updated.ID, updated.Name, updated.Amount, updated.Date, updated.Shares())
		return next, nil

	case wasFund && !isFund:
		next := l.fund.Clone()
		if !next.Refund(old.ID, old.Shares()) {
			l.logger.WarnContext(ctx, "Fund-paid expense had no fund transaction to refund",
				logx.FieldExpenseID, old.ID)
		}
		return next, nil

	default:
		tx, recorded := l.fund.TransactionFor(old.ID)
		available := l.fund.Balance()
		if recorded {
			available += int64(tx.Amount)
		}
		if err := l.checkSufficient(available, updated.Amount); err != nil {
			return nil, err
		}

		next := l.fund.Clone()
		if recorded {
			next.UpdateTransaction(updated.ID, updated.Name, updated.Amount, updated.Date,
				core.ShareDelta(old.Shares(), updated.Shares()))
			return next, nil
		}
		l.logger.WarnContext(ctx, "Fund-paid expense had no fund transaction, recording a new one",
			logx.FieldExpenseID, old.ID)
		next.ApplyPayment(updated.ID, updated.Name, updated.Amount, updated.Date, updated.Shares())
		return next, nil
	}
}

// DeleteExpense removes expense id, refunding the fund first when it paid.
func (l *Ledger) DeleteExpense(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, ok := l.expenses[id]
	if !ok {
		return &core.NotFoundError{Kind: "expense", ID: id}
	}

	nextFund := l.fund
	if old.Payer.IsFund() {
		nextFund = l.fund.Clone()
		if !nextFund.Refund(old.ID, old.Shares()) {
			l.logger.WarnContext(ctx, "Fund-paid expense had no fund transaction to refund",
				logx.FieldExpenseID, old.ID)
		}
	}

	next := l.stage()
	delete(next, id)
	if err := l.persist(ctx, "delete expense", next, nextFund, true, old.Payer.IsFund()); err != nil {
		return err
	}
	l.commit(next, nextFund)

	l.logger.InfoContext(ctx, "Expense deleted",
		logx.NewFields().
			WithExpense(old.ID, old.Name, int64(old.Amount), old.Payer.String()).
			WithOperation(logx.OpDelete).
			ToSlice()...)
	return nil
}

// Deposit credits member's contribution to the fund. A zero date means today.
func (l *Ledger) Deposit(ctx context.Context, member core.MemberID, amount core.Money, date core.Date, note string) (core.FundTransaction, error) {
	member = core.MemberID(strings.TrimSpace(string(member)))
	if err := amount.Validate(); err != nil {
		return core.FundTransaction{}, &core.ValidationError{Field: "amount", Reason: err.Error(), Err: err}
	}
	if member == "" || !l.dir.Contains(member) {
		return core.FundTransaction{}, &core.ValidationError{
			Field:  "member",
			Reason: fmt.Sprintf("unknown member %q", member),
			Err:    core.ErrUnknownMember,
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if date.IsZero() {
		date = core.DateOf(l.now())
	}
	nextFund := l.fund.Clone()
	tx := nextFund.AddDeposit(member, amount, date, strings.TrimSpace(note))

	if err := l.persist(ctx, "deposit", l.expenses, nextFund, false, true); err != nil {
		return core.FundTransaction{}, err
	}
	l.commit(l.expenses, nextFund)

	l.logger.InfoContext(ctx, "Fund deposit recorded",
		logx.NewFields().
			WithDeposit(tx.ID, string(member), int64(amount)).
			WithOperation(logx.OpDeposit).
			ToSlice()...)
	return tx, nil
}

// GetAllExpenses returns copies ordered newest first by date, then by
// creation time.
func (l *Ledger) GetAllExpenses() []core.Expense {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.Expense, 0, len(l.expenses))
	for _, e := range l.expenses {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.After(b.Date.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func (l *Ledger) GetExpenseByID(id string) (core.Expense, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.expenses[id]
	if !ok {
		return core.Expense{}, false
	}
	return e.Clone(), true
}

// CalculateResults runs the settlement engine over a consistent snapshot.
func (l *Ledger) CalculateResults() settlement.Result {
	res, _ := l.Settlement()
	return res
}

// Settlement returns the settlement result together with the revision it
// was computed at.
func (l *Ledger) Settlement() (settlement.Result, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	expenses := make([]core.Expense, 0, len(l.expenses))
	for _, e := range l.expenses {
		expenses = append(expenses, e)
	}
	sortByCreation(expenses)
	return settlement.Calculate(expenses, l.dir.All()), l.revision
}

func (l *Ledger) FundBalance() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fund.Balance()
}

func (l *Ledger) MemberBalances() map[core.MemberID]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fund.MemberBalances()
}

func (l *Ledger) FundTransactions() []core.FundTransaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fund.Transactions()
}

// FundState returns balance, member balances and log from one snapshot.
func (l *Ledger) FundState() core.FundState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fund.State()
}

// Revision increases on every committed mutation and every load.
func (l *Ledger) Revision() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision
}

func (l *Ledger) Members() members.Directory {
	return l.dir
}

func (l *Ledger) checkSufficient(available int64, amount core.Money) error {
	if int64(amount) > available {
		return &core.InsufficientFundBalanceError{Balance: available, Required: amount}
	}
	return nil
}

// stage returns a shallow copy of the expense map. Values are replaced, not
// mutated, so sharing them with the committed map is safe.
func (l *Ledger) stage() map[string]core.Expense {
	next := make(map[string]core.Expense, len(l.expenses)+1)
	for id, e := range l.expenses {
		next[id] = e
	}
	return next
}

func (l *Ledger) commit(expenses map[string]core.Expense, account *fund.Account) {
	l.expenses = expenses
	l.fund = account
	l.revision++
}

// persist writes the staged state. Stores implementing gateway.AtomicSaver
// get a single call; otherwise expenses are written first and restored if
// the fund write fails.
func (l *Ledger) persist(ctx context.Context, op string, expenses map[string]core.Expense, account *fund.Account, expensesChanged, fundChanged bool) error {
	list := toSlice(expenses)

	if saver, ok := l.store.(gateway.AtomicSaver); ok {
		if err := saver.SaveAll(ctx, list, account.State()); err != nil {
			return l.persistFailed(ctx, op, err)
		}
		return nil
	}

	if expensesChanged {
		if err := l.store.SaveExpenses(ctx, list); err != nil {
			return l.persistFailed(ctx, op, err)
		}
	}
	if !fundChanged {
		return nil
	}
	if err := l.store.SaveFund(ctx, account.State()); err != nil {
		if expensesChanged {
			if rerr := l.store.SaveExpenses(ctx, toSlice(l.expenses)); rerr != nil {
				err = errors.Join(err, fmt.Errorf("restore expenses: %w", rerr))
				l.logger.ErrorContext(ctx, "Stored expenses and fund may diverge, reload required",
					logx.FieldOperation, op, logx.FieldError, rerr)
			}
		}
		return l.persistFailed(ctx, op, err)
	}
	return nil
}

func (l *Ledger) persistFailed(ctx context.Context, op string, err error) error {
	l.logger.ErrorContext(ctx, "Persisting ledger failed, in-memory state unchanged",
		logx.FieldOperation, op,
		logx.FieldErrorType, logx.ErrorTypePersistence,
		logx.FieldError, err)
	return &core.PersistenceError{Op: op, Err: err}
}

func toSlice(expenses map[string]core.Expense) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, e.Clone())
	}
	sortByCreation(out)
	return out
}

// sortByCreation is the stored order: oldest first, id as tie-break.
func sortByCreation(expenses []core.Expense) {
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].CreatedAt.Equal(expenses[j].CreatedAt) {
			return expenses[i].CreatedAt.Before(expenses[j].CreatedAt)
		}
		return expenses[i].ID < expenses[j].ID
	})
}
