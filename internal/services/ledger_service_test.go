package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassa/internal/amqp"
	"cassa/internal/core"
	"cassa/internal/gateway/memory"
	"cassa/internal/ledger"
	"cassa/internal/members"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*amqp.LedgerEvent
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, ev *amqp.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func (p *recordingPublisher) types() []amqp.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.EventType, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

func (p *recordingPublisher) last() *amqp.LedgerEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

var day = core.NewDate(2025, 4, 2)

func newService(t *testing.T, pub Publisher) (*LedgerService, *memory.Store) {
	t.Helper()
	dir, err := members.Parse("G:Giang,T:Tuan,Q:Quang")
	require.NoError(t, err)
	store := memory.New()
	l := ledger.New(store, dir)
	require.NoError(t, l.Load(context.Background()))
	return NewLedgerService(l, pub, nil), store
}

func dinner(payer core.Payer) core.ExpenseInput {
	return core.ExpenseInput{
		Name:         "Dinner",
		Amount:       900,
		Date:         day,
		Payer:        payer,
		Participants: []core.MemberID{"G", "T", "Q"},
		SplitMode:    core.SplitEqual,
	}
}

func TestLedgerServicePublishesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, _ := newService(t, pub)

	tx, err := svc.Deposit(ctx, "G", 3000, day, "")
	require.NoError(t, err)
	ev := pub.last()
	assert.Equal(t, amqp.EventFundDeposited, ev.Type)
	assert.Equal(t, tx.ID, ev.TransactionID)
	assert.Equal(t, int64(3000), ev.Amount)
	assert.Equal(t, "G", ev.Member)

	e, err := svc.AddExpense(ctx, dinner(core.PooledFund()))
	require.NoError(t, err)
	ev = pub.last()
	assert.Equal(t, amqp.EventExpenseCreated, ev.Type)
	assert.Equal(t, e.ID, ev.ExpenseID)
	assert.Equal(t, core.PayerKindFund, ev.PayerKind)
	assert.Equal(t, svc.Revision(), ev.Revision)

	in := dinner(core.PaidBy("T"))
	in.Amount = 1200
	_, err = svc.UpdateExpense(ctx, e.ID, in)
	require.NoError(t, err)
	ev = pub.last()
	assert.Equal(t, amqp.EventExpenseUpdated, ev.Type)
	assert.Equal(t, "T", ev.Member)

	require.NoError(t, svc.DeleteExpense(ctx, e.ID))
	ev = pub.last()
	assert.Equal(t, amqp.EventExpenseDeleted, ev.Type)
	assert.Equal(t, int64(1200), ev.Amount)
	assert.Equal(t, core.PayerKindMember, ev.PayerKind)

	assert.Equal(t, []amqp.EventType{
		amqp.EventFundDeposited,
		amqp.EventExpenseCreated,
		amqp.EventExpenseUpdated,
		amqp.EventExpenseDeleted,
	}, pub.types())
}

func TestLedgerServiceRejectedCommandPublishesNothing(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, _ := newService(t, pub)

	_, err := svc.AddExpense(ctx, dinner(core.PooledFund()))
	var insufficient *core.InsufficientFundBalanceError
	require.ErrorAs(t, err, &insufficient)

	err = svc.DeleteExpense(ctx, "missing")
	require.ErrorIs(t, err, core.ErrNotFound)

	assert.Empty(t, pub.types())
}

func TestLedgerServicePublishFailureDoesNotFailCommand(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{err: errors.New("broker down")}
	svc, _ := newService(t, pub)

	e, err := svc.AddExpense(ctx, dinner(core.PaidBy("G")))
	require.NoError(t, err)

	got, err := svc.Expense(e.ID)
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Len(t, pub.types(), 1)
}

func TestLedgerServiceWithoutPublisher(t *testing.T) {
	svc, _ := newService(t, nil)

	_, err := svc.AddExpense(context.Background(), dinner(core.PaidBy("Q")))
	require.NoError(t, err)
	assert.Len(t, svc.Expenses(), 1)
	require.NoError(t, svc.Close())
}

func TestLedgerServiceReload(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc, store := newService(t, pub)

	store.Seed([]core.Expense{{
		ID: "ext-1", Name: "Taxi", Amount: 300, Date: day,
		Payer: core.PaidBy("T"), Participants: []core.MemberID{"T", "Q"},
		SplitMode: core.SplitEqual,
	}}, core.FundState{MemberBalances: map[core.MemberID]int64{}})

	var wg sync.WaitGroup
	revs := make([]uint64, 8)
	errs := make([]error, 8)
	for i := range revs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			revs[i], errs[i] = svc.Reload(ctx)
		}(i)
	}
	wg.Wait()

	for i := range revs {
		require.NoError(t, errs[i])
		assert.NotZero(t, revs[i])
	}
	require.Len(t, svc.Expenses(), 1)
	assert.Equal(t, "ext-1", svc.Expenses()[0].ID)

	result, rev := svc.Settlement()
	assert.Equal(t, svc.Revision(), rev)
	q, ok := result.Balance("Q")
	require.True(t, ok)
	assert.Equal(t, int64(-150), q.Net)

	for _, typ := range pub.types() {
		assert.Equal(t, amqp.EventLedgerReloaded, typ)
	}
}

func TestLedgerServiceReloadFailure(t *testing.T) {
	pub := &recordingPublisher{}
	svc, store := newService(t, pub)
	store.FailOn(memory.OpLoadFund, errors.New("disk gone"))

	_, err := svc.Reload(context.Background())
	var perr *core.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, pub.types())
}

func TestLedgerServiceClose(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(t, pub)
	require.NoError(t, svc.Close())
	assert.True(t, pub.closed)
}

func TestLedgerServiceExpenseNotFound(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Expense("nope")
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestLedgerServiceEventsCarryTheirOwnRevision(t *testing.T) {
	pub := &recordingPublisher{}
	svc, _ := newService(t, pub)
	base := svc.Revision()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := svc.AddExpense(context.Background(), dinner(core.PaidBy("G")))
				assert.NoError(t, err)
				return
			}
			_, err := svc.Deposit(context.Background(), "T", 100, day, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, writers)
	seen := make(map[uint64]bool, writers)
	for _, ev := range pub.events {
		assert.False(t, seen[ev.Revision], "revision %d announced twice", ev.Revision)
		seen[ev.Revision] = true
		assert.Greater(t, ev.Revision, base)
		assert.LessOrEqual(t, ev.Revision, base+writers)
	}
	assert.Equal(t, base+writers, svc.Revision())
}
