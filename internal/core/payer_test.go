package core

import (
	"encoding/json"
	"testing"
)

func TestPayerVariants(t *testing.T) {
	m := PaidBy("G")
	if m.IsFund() || m.IsZero() {
		t.Fatalf("member payer misclassified")
	}
	if id, ok := m.Member(); !ok || id != "G" {
		t.Fatalf("Member() = %q, %v", id, ok)
	}

	f := PooledFund()
	if !f.IsFund() {
		t.Fatalf("fund payer misclassified")
	}
	if _, ok := f.Member(); ok {
		t.Fatalf("fund payer must not resolve to a member")
	}

	// A member whose id happens to read like the fund is still a member.
	odd := PaidBy("FUND")
	if odd.IsFund() {
		t.Fatalf("member named FUND must not be the fund")
	}

	if !(Payer{}).IsZero() {
		t.Fatalf("zero payer should be unset")
	}
}

func TestPayerJSONRoundTrip(t *testing.T) {
	for _, p := range []Payer{PaidBy("T"), PooledFund()} {
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal %v: %v", p, err)
		}
		var back Payer
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != p {
			t.Fatalf("round trip %s: got %v want %v", b, back, p)
		}
	}
}

func TestParsePayer(t *testing.T) {
	if _, err := ParsePayer("member", ""); err == nil {
		t.Fatalf("member kind needs an id")
	}
	if _, err := ParsePayer("bank", "G"); err == nil {
		t.Fatalf("unknown kind should fail")
	}
	p, err := ParsePayer("fund", "")
	if err != nil || !p.IsFund() {
		t.Fatalf("fund kind: %v %v", p, err)
	}
}
