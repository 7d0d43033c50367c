package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger change.
type EventType string

const (
	EventExpenseCreated EventType = "expense.created"
	EventExpenseUpdated EventType = "expense.updated"
	EventExpenseDeleted EventType = "expense.deleted"
	EventFundDeposited  EventType = "fund.deposited"
	EventLedgerReloaded EventType = "ledger.reloaded"
)

// IsValid reports whether t is one of the known event types.
func (t EventType) IsValid() bool {
	switch t {
	case EventExpenseCreated, EventExpenseUpdated, EventExpenseDeleted, EventFundDeposited, EventLedgerReloaded:
		return true
	}
	return false
}

// TouchesFund reports whether an event of this type may have moved the
// fund balance.
func (t EventType) TouchesFund() bool {
	return t != EventLedgerReloaded
}

// LedgerEvent is published after a ledger change has been persisted.
// It carries identifiers only; consumers reload state from the store.
type LedgerEvent struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Revision      uint64    `json:"revision"`
	ExpenseID     string    `json:"expense_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Amount        int64     `json:"amount,omitempty"`
	PayerKind     string    `json:"payer_kind,omitempty"`
	Member        string    `json:"member,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEvent creates an event with a fresh id and the current time.
func NewLedgerEvent(eventType EventType, revision uint64) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Revision:  revision,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventFromJSON decodes and validates an event.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var msg LedgerEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	return &msg, nil
}
