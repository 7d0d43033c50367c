package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SplitEqual  SplitMode = "equal"
	SplitManual SplitMode = "manual"
)

const (
	TransactionDeposit TransactionType = "deposit"
	TransactionExpense TransactionType = "expense"
)

// ManualSplitTolerance is how far the manual splits may drift from the
// expense amount before the expense is rejected.
const ManualSplitTolerance = 1

const maxNameLength = 200

type (
	MemberID        string
	SplitMode       string
	TransactionType string

	Date struct {
		time.Time
	}

	Expense struct {
		ID           string             `json:"id"`
		Name         string             `json:"name"`
		Amount       Money              `json:"amount"`
		Date         Date               `json:"date"`
		Payer        Payer              `json:"payer"`
		Participants []MemberID         `json:"participants"`
		SplitMode    SplitMode          `json:"split_mode"`
		ManualSplits map[MemberID]Money `json:"manual_splits,omitempty"`
		CreatedAt    time.Time          `json:"created_at"`
		UpdatedAt    time.Time          `json:"updated_at"`
	}

	// ExpenseInput holds the mutable fields of an expense. Updates replace
	// all of them at once.
	ExpenseInput struct {
		Name         string             `json:"name"`
		Amount       Money              `json:"amount"`
		Date         Date               `json:"date"`
		Payer        Payer              `json:"payer"`
		Participants []MemberID         `json:"participants"`
		SplitMode    SplitMode          `json:"split_mode"`
		ManualSplits map[MemberID]Money `json:"manual_splits,omitempty"`
	}

	FundTransaction struct {
		ID       string          `json:"id"`
		Type     TransactionType `json:"type"`
		Amount   Money           `json:"amount"`
		Date     Date            `json:"date"`
		DateTime time.Time       `json:"datetime"`

		// Deposit
		Member MemberID `json:"member,omitempty"`
		Note   string   `json:"note,omitempty"`

		// Expense
		ExpenseID   string `json:"expense_id,omitempty"`
		ExpenseName string `json:"expense_name,omitempty"`
	}

	// FundState is the persisted shape of the pooled fund.
	FundState struct {
		Balance        int64              `json:"balance"`
		MemberBalances map[MemberID]int64 `json:"member_balances"`
		Transactions   []FundTransaction  `json:"transactions"`
	}

	// MemberSet answers whether an identifier belongs to the group.
	MemberSet interface {
		Contains(id MemberID) bool
	}
)

func (m MemberID) String() string {
	return string(m)
}

func (s SplitMode) IsValid() bool {
	return s == SplitEqual || s == SplitManual
}

func (t TransactionType) IsValid() bool {
	return t == TransactionDeposit || t == TransactionExpense
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Shares returns what each participant owes for this expense.
func (e Expense) Shares() map[MemberID]Money {
	return Shares(e.Amount, e.Participants, e.SplitMode, e.ManualSplits)
}

// Input returns the mutable fields of e.
func (e Expense) Input() ExpenseInput {
	return ExpenseInput{
		Name:         e.Name,
		Amount:       e.Amount,
		Date:         e.Date,
		Payer:        e.Payer,
		Participants: append([]MemberID(nil), e.Participants...),
		SplitMode:    e.SplitMode,
		ManualSplits: cloneSplits(e.ManualSplits),
	}
}

// Apply overwrites the mutable fields of e with in.
func (e *Expense) Apply(in ExpenseInput) {
	e.Name = in.Name
	e.Amount = in.Amount
	e.Date = in.Date
	e.Payer = in.Payer
	e.Participants = append([]MemberID(nil), in.Participants...)
	e.SplitMode = in.SplitMode
	e.ManualSplits = cloneSplits(in.ManualSplits)
}

// Clone returns a deep copy of e.
func (e Expense) Clone() Expense {
	out := e
	out.Participants = append([]MemberID(nil), e.Participants...)
	out.ManualSplits = cloneSplits(e.ManualSplits)
	return out
}

// Normalize trims free text, defaults the split mode and drops manual
// splits from equal-split input.
func (in ExpenseInput) Normalize() ExpenseInput {
	out := in
	out.Name = strings.TrimSpace(in.Name)
	out.Participants = make([]MemberID, 0, len(in.Participants))
	for _, p := range in.Participants {
		out.Participants = append(out.Participants, MemberID(strings.TrimSpace(string(p))))
	}
	if out.SplitMode == "" {
		out.SplitMode = SplitEqual
	}
	if out.SplitMode == SplitEqual {
		out.ManualSplits = nil
	} else {
		out.ManualSplits = cloneSplits(in.ManualSplits)
	}
	return out
}

// Validate checks the input against the expense invariants. Members are
// resolved through known; a nil set skips membership checks.
func (in ExpenseInput) Validate(known MemberSet) error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if len(in.Name) > maxNameLength {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("too long (max %d characters)", maxNameLength)}
	}
	if err := in.Amount.Validate(); err != nil {
		return invalid("amount", err)
	}
	if err := in.Date.Validate(); err != nil {
		return &ValidationError{Field: "date", Reason: err.Error()}
	}
	if err := in.validatePayer(known); err != nil {
		return err
	}
	if err := in.validateParticipants(known); err != nil {
		return err
	}

	switch in.SplitMode {
	case SplitEqual:
		if len(in.ManualSplits) > 0 {
			return &ValidationError{Field: "manual_splits", Reason: "only allowed with manual split"}
		}
	case SplitManual:
		return in.validateManualSplits()
	default:
		return &ValidationError{Field: "split_mode", Reason: fmt.Sprintf("unknown split mode %q", in.SplitMode)}
	}
	return nil
}

func (in ExpenseInput) validatePayer(known MemberSet) error {
	if in.Payer.IsZero() {
		return invalid("payer", ErrMissingPayer)
	}
	if id, ok := in.Payer.Member(); ok && known != nil && !known.Contains(id) {
		return &ValidationError{Field: "payer", Reason: fmt.Sprintf("unknown member %q", id), Err: ErrUnknownMember}
	}
	return nil
}

func (in ExpenseInput) validateParticipants(known MemberSet) error {
	if len(in.Participants) == 0 {
		return invalid("participants", ErrNoParticipants)
	}
	seen := make(map[MemberID]struct{}, len(in.Participants))
	for _, p := range in.Participants {
		if p == "" {
			return &ValidationError{Field: "participants", Reason: "empty member id", Err: ErrUnknownMember}
		}
		if _, dup := seen[p]; dup {
			return &ValidationError{Field: "participants", Reason: fmt.Sprintf("duplicate member %q", p)}
		}
		seen[p] = struct{}{}
		if known != nil && !known.Contains(p) {
			return &ValidationError{Field: "participants", Reason: fmt.Sprintf("unknown member %q", p), Err: ErrUnknownMember}
		}
	}
	return nil
}

func (in ExpenseInput) validateManualSplits() error {
	participants := make(map[MemberID]struct{}, len(in.Participants))
	for _, p := range in.Participants {
		participants[p] = struct{}{}
	}

	var sum int64
	for member, share := range in.ManualSplits {
		if _, ok := participants[member]; !ok {
			return &ValidationError{Field: "manual_splits", Reason: fmt.Sprintf("%q is not a participant", member)}
		}
		if share < 0 {
			return &ValidationError{Field: "manual_splits", Reason: fmt.Sprintf("negative share for %q", member)}
		}
		sum += int64(share)
	}

	diff := sum - int64(in.Amount)
	if diff < -ManualSplitTolerance || diff > ManualSplitTolerance {
		return &ValidationError{
			Field:  "manual_splits",
			Reason: fmt.Sprintf("splits sum to %s but amount is %s", Money(sum), in.Amount),
			Err:    ErrSplitMismatch,
		}
	}
	return nil
}

// Clone returns a deep copy of s.
func (s FundState) Clone() FundState {
	out := FundState{
		Balance:        s.Balance,
		MemberBalances: make(map[MemberID]int64, len(s.MemberBalances)),
		Transactions:   append([]FundTransaction(nil), s.Transactions...),
	}
	for k, v := range s.MemberBalances {
		out.MemberBalances[k] = v
	}
	return out
}

func cloneSplits(in map[MemberID]Money) map[MemberID]Money {
	if in == nil {
		return nil
	}
	out := make(map[MemberID]Money, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
