package http

import (
	"strings"
	"time"

	"cassa/internal/core"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// parseDateOrToday parses YYYY-MM-DD; an empty string means today.
func parseDateOrToday(s string, now func() time.Time) (core.Date, error) {
	if strings.TrimSpace(s) == "" {
		return core.DateOf(now()), nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD", Err: err}
	}
	return d, nil
}
