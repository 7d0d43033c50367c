package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"cassa/internal/core"
)

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	in := []core.Expense{{
		ID:           "e1",
		Name:         "Hotel",
		Amount:       300,
		Date:         core.NewDate(2025, 1, 1),
		Payer:        core.PaidBy("G"),
		Participants: []core.MemberID{"G", "T"},
		SplitMode:    core.SplitEqual,
	}}
	if err := s.SaveExpenses(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	in[0].Participants[0] = "X"

	out, err := s.LoadExpenses(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out[0].Participants[0] != "G" {
		t.Fatalf("store kept caller slice")
	}
	out[0].Name = "changed"
	again, _ := s.LoadExpenses(ctx)
	if again[0].Name != "Hotel" {
		t.Fatalf("load leaked internal state")
	}
}

func TestFailOn(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("disk full")

	s.FailOn(OpSaveFund, boom)
	if err := s.SaveFund(ctx, core.FundState{Balance: 10}); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	fund, _ := s.LoadFund(ctx)
	if fund.Balance != 0 {
		t.Fatalf("failed save must not change state")
	}

	s.FailOn(OpSaveFund, nil)
	if err := s.SaveFund(ctx, core.FundState{Balance: 10}); err != nil {
		t.Fatalf("save after clear: %v", err)
	}
	if got := s.Calls(OpSaveFund); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestNewFromDir(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFromDir(dir)
	if err != nil {
		t.Fatalf("empty dir: %v", err)
	}
	exp, _ := s.LoadExpenses(context.Background())
	if len(exp) != 0 {
		t.Fatalf("expected no expenses, got %d", len(exp))
	}

	mustWrite := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	mustWrite("expenses.json", `[{"id":"e1","name":"Taxi","amount":150,"date":"2025-01-02",
		"payer":{"kind":"fund"},"participants":["G","T"],"split_mode":"equal"}]`)
	mustWrite("fund.json", `{"balance":350,"member_balances":{"G":175,"T":175},
		"transactions":[{"id":"t1","type":"deposit","amount":500,"date":"2025-01-01","member":"G"}]}`)

	s, err = NewFromDir(dir)
	if err != nil {
		t.Fatalf("seeded dir: %v", err)
	}
	exp, _ = s.LoadExpenses(context.Background())
	if len(exp) != 1 || !exp[0].Payer.IsFund() {
		t.Fatalf("unexpected expenses %+v", exp)
	}
	fund, _ := s.LoadFund(context.Background())
	if fund.Balance != 350 || len(fund.Transactions) != 1 {
		t.Fatalf("unexpected fund %+v", fund)
	}

	mustWrite("fund.json", "{")
	if _, err := NewFromDir(dir); err == nil {
		t.Fatalf("expected decode error")
	}
}
