// Package fund keeps the pooled group fund: its balance, what each member
// has put in or drawn out, and the log of deposits and fund-paid expenses.
//
// An Account trusts its inputs. Sufficiency and validation checks belong to
// the caller, and an Account is not safe for concurrent use; the ledger
// serialises every call.
package fund

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cassa/internal/core"
)

// Account is the pooled fund.
type Account struct {
	balance        int64
	memberBalances map[core.MemberID]int64
	transactions   []core.FundTransaction

	newID func() string
	now   func() time.Time
}

type Option func(*Account)

// WithIDGenerator overrides how transaction ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(a *Account) {
		a.newID = fn
	}
}

// WithClock overrides the time source used for transaction timestamps.
func WithClock(fn func() time.Time) Option {
	return func(a *Account) {
		a.now = fn
	}
}

// New returns an empty fund.
func New(opts ...Option) *Account {
	a := &Account{
		memberBalances: make(map[core.MemberID]int64),
		newID:          uuid.NewString,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FromState restores a fund from its persisted shape.
func FromState(s core.FundState, opts ...Option) *Account {
	a := New(opts...)
	s = s.Clone()
	a.balance = s.Balance
	a.memberBalances = s.MemberBalances
	a.transactions = s.Transactions
	return a
}

// Clone returns an independent copy sharing only the id and clock sources.
func (a *Account) Clone() *Account {
	c := FromState(a.State())
	c.newID = a.newID
	c.now = a.now
	return c
}

// State returns a deep copy suitable for persisting.
func (a *Account) State() core.FundState {
	return core.FundState{
		Balance:        a.balance,
		MemberBalances: a.MemberBalances(),
		Transactions:   a.Transactions(),
	}
}

// AddDeposit credits the fund and the depositing member.
func (a *Account) AddDeposit(member core.MemberID, amount core.Money, date core.Date, note string) core.FundTransaction {
	tx := core.FundTransaction{
		ID:       a.newID(),
		Type:     core.TransactionDeposit,
		Amount:   amount,
		Date:     date,
		DateTime: a.now().UTC(),
		Member:   member,
		Note:     note,
	}
	a.balance += int64(amount)
	a.memberBalances[member] += int64(amount)
	a.transactions = append(a.transactions, tx)
	return tx
}

// ApplyPayment records a fund-paid expense and draws each participant's
// share from their member balance.
func (a *Account) ApplyPayment(expenseID, name string, amount core.Money, date core.Date, shares map[core.MemberID]core.Money) core.FundTransaction {
	tx := core.FundTransaction{
		ID:          a.newID(),
		Type:        core.TransactionExpense,
		Amount:      amount,
		Date:        date,
		DateTime:    a.now().UTC(),
		ExpenseID:   expenseID,
		ExpenseName: name,
	}
	a.balance -= int64(amount)
	for member, share := range shares {
		a.memberBalances[member] -= int64(share)
	}
	a.transactions = append(a.transactions, tx)
	return tx
}

// Refund reverses a fund payment: the recorded amount returns to the fund,
// the shares return to the members and the transaction is removed. It
// reports false, changing nothing, when the expense has no transaction.
func (a *Account) Refund(expenseID string, shares map[core.MemberID]core.Money) bool {
	i := a.indexOf(expenseID)
	if i < 0 {
		return false
	}
	a.balance += int64(a.transactions[i].Amount)
	for member, share := range shares {
		a.memberBalances[member] += int64(share)
	}
	a.transactions = append(a.transactions[:i], a.transactions[i+1:]...)
	return true
}

// UpdateTransaction rewrites a fund payment in place. delta is already
// netted per member (old shares refunded, new shares drawn). The
// transaction keeps its id, type and position in the log.
func (a *Account) UpdateTransaction(expenseID, name string, amount core.Money, date core.Date, delta map[core.MemberID]int64) bool {
	i := a.indexOf(expenseID)
	if i < 0 {
		return false
	}
	tx := &a.transactions[i]
	a.balance += int64(tx.Amount) - int64(amount)
	for member, d := range delta {
		a.memberBalances[member] += d
	}
	tx.ExpenseName = name
	tx.Amount = amount
	tx.Date = date
	return true
}

func (a *Account) Balance() int64 {
	return a.balance
}

// MemberBalances returns a copy of each member's net position in the fund.
func (a *Account) MemberBalances() map[core.MemberID]int64 {
	out := make(map[core.MemberID]int64, len(a.memberBalances))
	for k, v := range a.memberBalances {
		out[k] = v
	}
	return out
}

// Transactions returns a copy of the log in insertion order.
func (a *Account) Transactions() []core.FundTransaction {
	return append([]core.FundTransaction(nil), a.transactions...)
}

// TransactionFor returns the expense transaction recorded for expenseID.
func (a *Account) TransactionFor(expenseID string) (core.FundTransaction, bool) {
	i := a.indexOf(expenseID)
	if i < 0 {
		return core.FundTransaction{}, false
	}
	return a.transactions[i], true
}

func (a *Account) indexOf(expenseID string) int {
	for i, tx := range a.transactions {
		if tx.Type == core.TransactionExpense && tx.ExpenseID == expenseID {
			return i
		}
	}
	return -1
}

var ErrDuplicateExpenseTransaction = errors.New("expense paid by the fund more than once")

// DriftError reports a stored balance that disagrees with the log.
type DriftError struct {
	Stored  int64
	Derived int64
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("fund balance drift: stored %s, derived from transactions %s",
		core.FormatUnits(e.Stored), core.FormatUnits(e.Derived))
}

// DeriveBalance is Σ deposits − Σ expense payments.
func DeriveBalance(txs []core.FundTransaction) int64 {
	var total int64
	for _, tx := range txs {
		switch tx.Type {
		case core.TransactionDeposit:
			total += int64(tx.Amount)
		case core.TransactionExpense:
			total -= int64(tx.Amount)
		}
	}
	return total
}

// Verify runs the fund self-check over a persisted state.
func Verify(s core.FundState) error {
	var errs []error
	if derived := DeriveBalance(s.Transactions); derived != s.Balance {
		errs = append(errs, &DriftError{Stored: s.Balance, Derived: derived})
	}

	seen := make(map[string]struct{})
	for _, tx := range s.Transactions {
		if !tx.Type.IsValid() {
			errs = append(errs, fmt.Errorf("transaction %s: unknown type %q", tx.ID, tx.Type))
			continue
		}
		if tx.Type != core.TransactionExpense {
			continue
		}
		if _, dup := seen[tx.ExpenseID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateExpenseTransaction, tx.ExpenseID))
		}
		seen[tx.ExpenseID] = struct{}{}
	}
	return errors.Join(errs...)
}
