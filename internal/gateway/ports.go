// Package gateway declares the persistence ports the ledger loads from and
// saves to. Every save replaces the stored collection wholesale.
package gateway

import (
	"context"

	"cassa/internal/core"
)

type (
	ExpenseStore interface {
		LoadExpenses(ctx context.Context) ([]core.Expense, error)
		SaveExpenses(ctx context.Context, expenses []core.Expense) error
	}

	FundStore interface {
		LoadFund(ctx context.Context) (core.FundState, error)
		SaveFund(ctx context.Context, state core.FundState) error
	}

	// Store is the full backing store of a ledger.
	Store interface {
		ExpenseStore
		FundStore
	}

	// AtomicSaver is implemented by stores able to persist expenses and fund
	// in one transaction.
	AtomicSaver interface {
		SaveAll(ctx context.Context, expenses []core.Expense, fund core.FundState) error
	}

	// Pinger reports whether the backing store is reachable.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)
