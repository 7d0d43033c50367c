package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cassa/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "cassa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func sampleExpenses() []core.Expense {
	created := time.Date(2025, 2, 1, 10, 30, 0, 123, time.UTC)
	return []core.Expense{
		{
			ID: "e1", Name: "Hotel", Amount: 300000, Date: core.NewDate(2025, 2, 1),
			Payer: core.PooledFund(), Participants: []core.MemberID{"G", "T", "Q"},
			SplitMode: core.SplitEqual, CreatedAt: created, UpdatedAt: created,
		},
		{
			ID: "e2", Name: "Gift", Amount: 1000, Date: core.NewDate(2025, 2, 2),
			Payer: core.PaidBy("T"), Participants: []core.MemberID{"Q", "G", "T"},
			SplitMode: core.SplitManual, ManualSplits: map[core.MemberID]core.Money{"Q": 700, "G": 300},
			CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(2 * time.Hour),
		},
	}
}

func sampleFund() core.FundState {
	return core.FundState{
		Balance:        200000,
		MemberBalances: map[core.MemberID]int64{"G": 400000, "T": -100000, "Q": -100000},
		Transactions: []core.FundTransaction{
			{
				ID: "t1", Type: core.TransactionDeposit, Amount: 500000, Date: core.NewDate(2025, 2, 1),
				DateTime: time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC), Member: "G", Note: "kitty",
			},
			{
				ID: "t2", Type: core.TransactionExpense, Amount: 300000, Date: core.NewDate(2025, 2, 1),
				DateTime: time.Date(2025, 2, 1, 10, 30, 0, 0, time.UTC), ExpenseID: "e1", ExpenseName: "Hotel",
			},
		},
	}
}

func TestEmptyDatabase(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	expenses, err := repo.LoadExpenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, expenses)

	state, err := repo.LoadFund(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.Balance)
	assert.Empty(t, state.Transactions)
	assert.NotNil(t, state.MemberBalances)
	require.NoError(t, repo.Ping(ctx))
}

func TestSaveAllRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.SaveAll(ctx, sampleExpenses(), sampleFund()))

	expenses, err := repo.LoadExpenses(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleExpenses(), expenses)

	state, err := repo.LoadFund(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleFund(), state)
}

func TestSaveReplacesPreviousRows(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveAll(ctx, sampleExpenses(), sampleFund()))

	remaining := sampleExpenses()[1:]
	require.NoError(t, repo.SaveExpenses(ctx, remaining))
	require.NoError(t, repo.SaveFund(ctx, core.FundState{
		Balance:        500000,
		MemberBalances: map[core.MemberID]int64{"G": 500000},
		Transactions:   sampleFund().Transactions[:1],
	}))

	expenses, err := repo.LoadExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, "e2", expenses[0].ID)
	assert.Equal(t, []core.MemberID{"Q", "G", "T"}, expenses[0].Participants)

	state, err := repo.LoadFund(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), state.Balance)
	assert.Len(t, state.MemberBalances, 1)
	assert.Len(t, state.Transactions, 1)
}

func TestSaveAllRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveAll(ctx, sampleExpenses(), sampleFund()))

	bad := sampleFund()
	bad.Transactions = append(bad.Transactions, bad.Transactions[0])
	err := repo.SaveAll(ctx, nil, bad)
	require.Error(t, err)

	expenses, err := repo.LoadExpenses(ctx)
	require.NoError(t, err)
	assert.Len(t, expenses, 2)
	state, err := repo.LoadFund(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleFund(), state)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cassa.db")
	v1, err := RunMigrations(path)
	require.NoError(t, err)
	v2, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, uint(1), v2)
}
