package core

// Shares splits amount between participants.
//
// Manual mode reads each participant's entry from manual, missing entries
// count as zero. Equal mode gives everyone amount/n and hands the remainder
// out one unit at a time in participant order, so the shares always add up
// to amount.
func Shares(amount Money, participants []MemberID, mode SplitMode, manual map[MemberID]Money) map[MemberID]Money {
	shares := make(map[MemberID]Money, len(participants))
	if len(participants) == 0 {
		return shares
	}

	if mode == SplitManual {
		for _, p := range participants {
			shares[p] = manual[p]
		}
		return shares
	}

	n := Money(len(participants))
	base := amount / n
	remainder := amount % n
	for i, p := range participants {
		share := base
		if Money(i) < remainder {
			share++
		}
		shares[p] = share
	}
	return shares
}

// ShareDelta nets a refund of old against a deduction of next. Positive
// values are credited back to the member, negative ones are drawn.
func ShareDelta(old, next map[MemberID]Money) map[MemberID]int64 {
	delta := make(map[MemberID]int64, len(old)+len(next))
	for m, s := range old {
		delta[m] += int64(s)
	}
	for m, s := range next {
		delta[m] -= int64(s)
	}
	return delta
}
