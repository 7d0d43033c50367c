// Package settlement works out who owes whom for expenses paid by members.
//
// Expenses paid by the pooled fund are settled through the fund itself and
// never produce transfers here.
package settlement

import (
	"sort"

	"cassa/internal/core"
)

// MemberBalance is one member's position across member-paid expenses.
// Net is Paid - Owed: positive means the group owes the member.
type MemberBalance struct {
	Member core.MemberID `json:"member"`
	Paid   int64         `json:"paid"`
	Owed   int64         `json:"owed"`
	Net    int64         `json:"net"`
}

// Transfer is a single payment that moves a debtor towards zero.
type Transfer struct {
	From   core.MemberID `json:"from"`
	To     core.MemberID `json:"to"`
	Amount core.Money    `json:"amount"`
}

type Result struct {
	Balances           []MemberBalance `json:"balances"`
	Transfers          []Transfer      `json:"transfers"`
	HasNonFundExpenses bool            `json:"has_non_fund_expenses"`
}

// Balance returns the entry for id.
func (r Result) Balance(id core.MemberID) (MemberBalance, bool) {
	for _, b := range r.Balances {
		if b.Member == id {
			return b, true
		}
	}
	return MemberBalance{}, false
}

// Calculate computes balances and a greedy minimal transfer list.
//
// Balances are listed in members order; ids that only appear in expenses
// follow in order of first appearance. Debtors are paired most-negative
// first with creditors largest first, and equal nets keep that listing
// order, so the output is fully determined by the input.
func Calculate(expenses []core.Expense, members []core.MemberID) Result {
	balances := make([]MemberBalance, 0, len(members))
	index := make(map[core.MemberID]int, len(members))
	entry := func(id core.MemberID) *MemberBalance {
		i, ok := index[id]
		if !ok {
			i = len(balances)
			index[id] = i
			balances = append(balances, MemberBalance{Member: id})
		}
		return &balances[i]
	}
	for _, m := range members {
		entry(m)
	}

	hasNonFund := false
	for _, e := range expenses {
		payer, ok := e.Payer.Member()
		if !ok {
			continue
		}
		hasNonFund = true
		entry(payer).Paid += int64(e.Amount)

		shares := e.Shares()
		for _, p := range e.Participants {
			entry(p).Owed += int64(shares[p])
		}
	}

	for i := range balances {
		balances[i].Net = balances[i].Paid - balances[i].Owed
	}

	result := Result{Balances: balances, Transfers: []Transfer{}, HasNonFundExpenses: hasNonFund}
	if !hasNonFund {
		return result
	}
	result.Transfers = simplify(balances)
	return result
}

type position struct {
	member    core.MemberID
	remaining int64
}

// simplify pairs debtors with creditors until one side runs out.
func simplify(balances []MemberBalance) []Transfer {
	var debtors, creditors []position
	for _, b := range balances {
		switch {
		case b.Net < 0:
			debtors = append(debtors, position{member: b.Member, remaining: -b.Net})
		case b.Net > 0:
			creditors = append(creditors, position{member: b.Member, remaining: b.Net})
		}
	}
	sort.SliceStable(debtors, func(i, j int) bool { return debtors[i].remaining > debtors[j].remaining })
	sort.SliceStable(creditors, func(i, j int) bool { return creditors[i].remaining > creditors[j].remaining })

	transfers := make([]Transfer, 0, len(debtors)+len(creditors))
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amount := min(d.remaining, c.remaining)
		if amount > 0 {
			transfers = append(transfers, Transfer{From: d.member, To: c.member, Amount: core.Money(amount)})
		}
		d.remaining -= amount
		c.remaining -= amount
		// Whole units only, so "below one unit" means settled.
		if d.remaining < 1 {
			i++
		}
		if c.remaining < 1 {
			j++
		}
	}
	return transfers
}
