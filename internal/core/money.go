// Package core provides money parsing and handling utilities.
//
// Amounts are whole currency units (the group books in a currency without
// minor units), so Money is a plain integer count.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in whole currency units.
type Money int64

func (m Money) Validate() error {
	if m <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// String renders m with dot-grouped thousands, e.g. 300.000.
func (m Money) String() string {
	return FormatUnits(int64(m))
}

// ParseMoney converts a user supplied amount to Money.
//
// It accepts plain digits (300000) or digits grouped by thousands with a
// dot, comma, space or underscore (300.000, 300,000). Fractions, signs,
// zero and values that overflow int64 are rejected.
//
// Examples:
//
//	ParseMoney("300000")  -> 300000, nil
//	ParseMoney("300.000") -> 300000, nil
//	ParseMoney("1,5")     -> 0, ErrInvalidAmount (not a thousands group)
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed
		return 0, ErrInvalidAmount
	}

	groups := strings.FieldsFunc(s, isGroupSeparator)
	if len(groups) == 0 {
		return 0, ErrInvalidAmount
	}
	digits := strings.Join(groups, "")

	// Separators must sit between groups, never at either end or doubled.
	if isGroupSeparator(rune(s[0])) || isGroupSeparator(rune(s[len(s)-1])) {
		return 0, ErrInvalidAmount
	}
	if len(s)-len(digits) != len(groups)-1 {
		return 0, ErrInvalidAmount
	}
	if len(groups) > 1 {
		if len(groups[0]) > 3 {
			return 0, ErrInvalidAmount
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, ErrInvalidAmount
			}
		}
	}

	for _, r := range digits {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return 0, ErrInvalidAmount
		}
	}

	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if v <= 0 {
		return 0, ErrInvalidAmount
	}
	return Money(v), nil
}

// FormatUnits formats a signed unit count with dot-grouped thousands.
func FormatUnits(v int64) string {
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-(v + 1)) + 1
	}
	digits := strconv.FormatUint(u, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func isGroupSeparator(r rune) bool {
	return r == '.' || r == ',' || r == ' ' || r == '_'
}
