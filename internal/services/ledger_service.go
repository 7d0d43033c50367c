package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"cassa/internal/amqp"
	"cassa/internal/core"
	"cassa/internal/ledger"
	logx "cassa/internal/log"
	"cassa/internal/members"
	"cassa/internal/settlement"
)

// Publisher sends ledger events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, event *amqp.LedgerEvent) error
}

// LedgerService is the command entry point used by the HTTP layer. It
// forwards to the ledger and announces every committed change.
//
// Once wrapped, the ledger must only be mutated through the service: writeMu
// pairs each mutation with the revision it committed.
type LedgerService struct {
	ledger    *ledger.Ledger
	publisher Publisher
	logger    *slog.Logger
	reloads   singleflight.Group
	writeMu   sync.Mutex
}

// NewLedgerService wires a ledger to an optional publisher. A nil
// publisher disables events.
func NewLedgerService(l *ledger.Ledger, publisher Publisher, logger *slog.Logger) *LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerService{
		ledger:    l,
		publisher: publisher,
		logger:    logger.With(logx.FieldComponent, logx.ComponentLedger),
	}
}

// mutate runs fn and reads the revision it committed before any other
// write can start. Events are published after the lock is released.
func (s *LedgerService) mutate(fn func() error) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := fn(); err != nil {
		return 0, err
	}
	return s.ledger.Revision(), nil
}

func (s *LedgerService) AddExpense(ctx context.Context, in core.ExpenseInput) (core.Expense, error) {
	var e core.Expense
	rev, err := s.mutate(func() (err error) {
		e, err = s.ledger.AddExpense(ctx, in)
		return err
	})
	if err != nil {
		return core.Expense{}, err
	}
	s.publish(ctx, expenseEvent(amqp.EventExpenseCreated, rev, e))
	return e, nil
}

func (s *LedgerService) UpdateExpense(ctx context.Context, id string, in core.ExpenseInput) (core.Expense, error) {
	var e core.Expense
	rev, err := s.mutate(func() (err error) {
		e, err = s.ledger.UpdateExpense(ctx, id, in)
		return err
	})
	if err != nil {
		return core.Expense{}, err
	}
	s.publish(ctx, expenseEvent(amqp.EventExpenseUpdated, rev, e))
	return e, nil
}

func (s *LedgerService) DeleteExpense(ctx context.Context, id string) error {
	var (
		old   core.Expense
		found bool
	)
	rev, err := s.mutate(func() error {
		old, found = s.ledger.GetExpenseByID(id)
		return s.ledger.DeleteExpense(ctx, id)
	})
	if err != nil {
		return err
	}
	ev := amqp.NewLedgerEvent(amqp.EventExpenseDeleted, rev)
	ev.ExpenseID = id
	if found {
		ev.Amount = int64(old.Amount)
		ev.PayerKind = old.Payer.Kind()
	}
	s.publish(ctx, ev)
	return nil
}

func (s *LedgerService) Deposit(ctx context.Context, member core.MemberID, amount core.Money, date core.Date, note string) (core.FundTransaction, error) {
	var tx core.FundTransaction
	rev, err := s.mutate(func() (err error) {
		tx, err = s.ledger.Deposit(ctx, member, amount, date, note)
		return err
	})
	if err != nil {
		return core.FundTransaction{}, err
	}
	ev := amqp.NewLedgerEvent(amqp.EventFundDeposited, rev)
	ev.TransactionID = tx.ID
	ev.Amount = int64(tx.Amount)
	ev.Member = string(tx.Member)
	s.publish(ctx, ev)
	return tx, nil
}

// Reload replaces the in-memory state from the store. Concurrent callers
// share one load.
func (s *LedgerService) Reload(ctx context.Context) (uint64, error) {
	v, err, shared := s.reloads.Do("reload", func() (any, error) {
		rev, err := s.mutate(func() error { return s.ledger.Reload(ctx) })
		if err != nil {
			return uint64(0), err
		}
		s.publish(ctx, amqp.NewLedgerEvent(amqp.EventLedgerReloaded, rev))
		return rev, nil
	})
	if shared {
		s.logger.DebugContext(ctx, "Reload coalesced with an in-flight load")
	}
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (s *LedgerService) Expenses() []core.Expense {
	return s.ledger.GetAllExpenses()
}

func (s *LedgerService) Expense(id string) (core.Expense, error) {
	e, ok := s.ledger.GetExpenseByID(id)
	if !ok {
		return core.Expense{}, &core.NotFoundError{Kind: "expense", ID: id}
	}
	return e, nil
}

// Settlement returns the current settlement and the revision it was
// computed at.
func (s *LedgerService) Settlement() (settlement.Result, uint64) {
	return s.ledger.Settlement()
}

func (s *LedgerService) Fund() core.FundState {
	return s.ledger.FundState()
}

func (s *LedgerService) Members() members.Directory {
	return s.ledger.Members()
}

func (s *LedgerService) Revision() uint64 {
	return s.ledger.Revision()
}

// Close releases the publisher when it holds a connection.
func (s *LedgerService) Close() error {
	var errs []error
	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	return errors.Join(errs...)
}

// publish never fails the command: the change is already persisted.
func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			"event_type", ev.Type,
			logx.FieldRevision, ev.Revision,
			logx.FieldError, err)
	}
}

func expenseEvent(t amqp.EventType, revision uint64, e core.Expense) *amqp.LedgerEvent {
	ev := amqp.NewLedgerEvent(t, revision)
	ev.ExpenseID = e.ID
	ev.Amount = int64(e.Amount)
	ev.PayerKind = e.Payer.Kind()
	if m, ok := e.Payer.Member(); ok {
		ev.Member = string(m)
	}
	return ev
}
