// Package memory is an in-process gateway.Store used by tests and by the
// memory data backend.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cassa/internal/core"
	"cassa/internal/gateway"
)

// Operation names accepted by FailOn.
const (
	OpLoadExpenses = "load_expenses"
	OpSaveExpenses = "save_expenses"
	OpLoadFund     = "load_fund"
	OpSaveFund     = "save_fund"
)

type Store struct {
	mu       sync.Mutex
	expenses []core.Expense
	fund     core.FundState
	failures map[string]error
	calls    map[string]int
}

var (
	_ gateway.Store  = (*Store)(nil)
	_ gateway.Pinger = (*Store)(nil)
)

func New() *Store {
	return &Store{
		fund:     core.FundState{MemberBalances: map[core.MemberID]int64{}},
		failures: map[string]error{},
		calls:    map[string]int{},
	}
}

// NewFromDir seeds the store from expenses.json and fund.json in base.
// Missing files leave the corresponding collection empty.
func NewFromDir(base string) (*Store, error) {
	s := New()
	if err := readJSON(filepath.Join(base, "expenses.json"), &s.expenses); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(base, "fund.json"), &s.fund); err != nil {
		return nil, err
	}
	if s.fund.MemberBalances == nil {
		s.fund.MemberBalances = map[core.MemberID]int64{}
	}
	return s, nil
}

// Seed replaces the stored state without going through the failure hooks.
func (s *Store) Seed(expenses []core.Expense, fund core.FundState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = cloneExpenses(expenses)
	s.fund = fund.Clone()
}

// FailOn makes op return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls reports how many times op was invoked, failed calls included.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Store) LoadExpenses(_ context.Context) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLoadExpenses); err != nil {
		return nil, err
	}
	return cloneExpenses(s.expenses), nil
}

func (s *Store) SaveExpenses(_ context.Context, expenses []core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSaveExpenses); err != nil {
		return err
	}
	s.expenses = cloneExpenses(expenses)
	return nil
}

func (s *Store) LoadFund(_ context.Context) (core.FundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpLoadFund); err != nil {
		return core.FundState{}, err
	}
	return s.fund.Clone(), nil
}

func (s *Store) SaveFund(_ context.Context, state core.FundState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSaveFund); err != nil {
		return err
	}
	s.fund = state.Clone()
	return nil
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failures[op]
}

func cloneExpenses(in []core.Expense) []core.Expense {
	out := make([]core.Expense, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

func readJSON(path string, dst any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
