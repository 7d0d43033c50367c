package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type memberSet map[MemberID]bool

func (s memberSet) Contains(id MemberID) bool { return s[id] }

var group = memberSet{"G": true, "T": true, "Q": true}

func validInput() ExpenseInput {
	return ExpenseInput{
		Name:         "Dinner",
		Amount:       300000,
		Date:         NewDate(2025, 1, 1),
		Payer:        PaidBy("G"),
		Participants: []MemberID{"G", "T", "Q"},
		SplitMode:    SplitEqual,
	}
}

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestDateJSON(t *testing.T) {
	b, err := json.Marshal(NewDate(2025, 3, 9))
	if err != nil || string(b) != `"2025-03-09"` {
		t.Fatalf("marshal: %s %v", b, err)
	}
	var d Date
	if err := json.Unmarshal([]byte(`"2024-02-29"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Year() != 2024 || d.Month() != time.February || d.Day() != 29 {
		t.Fatalf("unexpected date %v", d)
	}
	if err := json.Unmarshal([]byte(`"29/02/2024"`), &d); err == nil {
		t.Fatalf("expected error for non ISO date")
	}
}

func TestExpenseInputValidate(t *testing.T) {
	if err := validInput().Validate(group); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	manual := validInput()
	manual.SplitMode = SplitManual
	manual.ManualSplits = map[MemberID]Money{"G": 100000, "T": 100000, "Q": 100001}
	if err := manual.Validate(group); err != nil {
		t.Fatalf("manual within tolerance should pass, got %v", err)
	}

	fund := validInput()
	fund.Payer = PooledFund()
	if err := fund.Validate(group); err != nil {
		t.Fatalf("fund payer should pass, got %v", err)
	}

	bads := map[string]func(in *ExpenseInput){
		"empty name":        func(in *ExpenseInput) { in.Name = "  " },
		"long name":         func(in *ExpenseInput) { in.Name = strings.Repeat("x", 201) },
		"zero amount":       func(in *ExpenseInput) { in.Amount = 0 },
		"negative amount":   func(in *ExpenseInput) { in.Amount = -10 },
		"zero date":         func(in *ExpenseInput) { in.Date = Date{} },
		"unset payer":       func(in *ExpenseInput) { in.Payer = Payer{} },
		"unknown payer":     func(in *ExpenseInput) { in.Payer = PaidBy("X") },
		"no participants":   func(in *ExpenseInput) { in.Participants = nil },
		"unknown member":    func(in *ExpenseInput) { in.Participants = []MemberID{"G", "X"} },
		"duplicate member":  func(in *ExpenseInput) { in.Participants = []MemberID{"G", "G"} },
		"bad split mode":    func(in *ExpenseInput) { in.SplitMode = "weird" },
		"splits with equal": func(in *ExpenseInput) { in.ManualSplits = map[MemberID]Money{"G": 1} },
		"manual mismatch": func(in *ExpenseInput) {
			in.SplitMode = SplitManual
			in.ManualSplits = map[MemberID]Money{"G": 100000, "T": 100000}
		},
		"manual outsider": func(in *ExpenseInput) {
			in.SplitMode = SplitManual
			in.ManualSplits = map[MemberID]Money{"G": 150000, "X": 150000}
		},
		"manual negative": func(in *ExpenseInput) {
			in.SplitMode = SplitManual
			in.ManualSplits = map[MemberID]Money{"G": 400000, "T": -100000}
		},
	}
	for name, mutate := range bads {
		in := validInput()
		mutate(&in)
		err := in.Validate(group)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %T %v", name, err, err)
		}
	}
}

func TestExpenseInputValidateSentinels(t *testing.T) {
	in := validInput()
	in.Amount = 0
	if err := in.Validate(group); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	in = validInput()
	in.SplitMode = SplitManual
	in.ManualSplits = map[MemberID]Money{"G": 1}
	if err := in.Validate(group); !errors.Is(err, ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}
}

func TestExpenseInputNormalize(t *testing.T) {
	in := ExpenseInput{
		Name:         "  Taxi ",
		Participants: []MemberID{" G", "T "},
		ManualSplits: map[MemberID]Money{"G": 5},
	}
	out := in.Normalize()
	if out.Name != "Taxi" {
		t.Fatalf("name not trimmed: %q", out.Name)
	}
	if out.SplitMode != SplitEqual {
		t.Fatalf("split mode should default to equal, got %q", out.SplitMode)
	}
	if out.ManualSplits != nil {
		t.Fatalf("equal split should drop manual splits")
	}
	if out.Participants[0] != "G" || out.Participants[1] != "T" {
		t.Fatalf("participants not trimmed: %v", out.Participants)
	}
}

func TestExpenseCloneIsDeep(t *testing.T) {
	e := Expense{
		Participants: []MemberID{"G"},
		ManualSplits: map[MemberID]Money{"G": 1},
	}
	c := e.Clone()
	c.Participants[0] = "T"
	c.ManualSplits["G"] = 2
	if e.Participants[0] != "G" || e.ManualSplits["G"] != 1 {
		t.Fatalf("clone shares memory with original")
	}
}

func TestErrorMessagesCarryValues(t *testing.T) {
	err := &InsufficientFundBalanceError{Balance: 200000, Required: 300000}
	if !strings.Contains(err.Error(), "200.000") || !strings.Contains(err.Error(), "300.000") {
		t.Fatalf("message should carry balance and amount: %q", err.Error())
	}
	if !errors.Is(err, ErrInsufficientFundBalance) {
		t.Fatalf("errors.Is mismatch")
	}

	perr := &PersistenceError{Op: "save expenses", Err: errors.New("disk full")}
	if !errors.Is(perr, ErrPersistence) || errors.Unwrap(perr).Error() != "disk full" {
		t.Fatalf("persistence error should match and unwrap")
	}
}
