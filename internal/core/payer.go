package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Storage and wire names for the payer kinds.
const (
	PayerKindMember = "member"
	PayerKindFund   = "fund"
)

type payerKind uint8

const (
	payerUnset payerKind = iota
	payerMember
	payerFund
)

// Payer is who settled an expense: a single member or the pooled fund.
// The zero value is unset and fails validation.
type Payer struct {
	kind   payerKind
	member MemberID
}

// PaidBy returns a payer for the given member.
func PaidBy(id MemberID) Payer {
	return Payer{kind: payerMember, member: id}
}

// PooledFund returns the payer representing the group fund.
func PooledFund() Payer {
	return Payer{kind: payerFund}
}

// ParsePayer rebuilds a payer from its stored kind and member columns.
func ParsePayer(kind, member string) (Payer, error) {
	switch strings.TrimSpace(kind) {
	case PayerKindFund:
		return PooledFund(), nil
	case PayerKindMember:
		member = strings.TrimSpace(member)
		if member == "" {
			return Payer{}, fmt.Errorf("payer kind %q without member", kind)
		}
		return PaidBy(MemberID(member)), nil
	default:
		return Payer{}, fmt.Errorf("unknown payer kind %q", kind)
	}
}

func (p Payer) IsFund() bool {
	return p.kind == payerFund
}

func (p Payer) IsZero() bool {
	return p.kind == payerUnset
}

// Member returns the paying member; ok is false for the fund.
func (p Payer) Member() (id MemberID, ok bool) {
	if p.kind != payerMember {
		return "", false
	}
	return p.member, true
}

// Kind returns PayerKindMember, PayerKindFund or "" when unset.
func (p Payer) Kind() string {
	switch p.kind {
	case payerMember:
		return PayerKindMember
	case payerFund:
		return PayerKindFund
	default:
		return ""
	}
}

func (p Payer) String() string {
	switch p.kind {
	case payerMember:
		return string(p.member)
	case payerFund:
		return "pooled fund"
	default:
		return "unset"
	}
}

type payerJSON struct {
	Kind   string   `json:"kind"`
	Member MemberID `json:"member,omitempty"`
}

func (p Payer) MarshalJSON() ([]byte, error) {
	return json.Marshal(payerJSON{Kind: p.Kind(), Member: p.member})
}

func (p *Payer) UnmarshalJSON(data []byte) error {
	var raw payerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Kind == "" && raw.Member == "" {
		*p = Payer{}
		return nil
	}
	parsed, err := ParsePayer(raw.Kind, string(raw.Member))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
