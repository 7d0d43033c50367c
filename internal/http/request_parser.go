package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cassa/internal/core"
)

const maxBodyBytes = 1 << 20

// errBadRequest marks bodies that are not well-formed JSON.
var errBadRequest = errors.New("malformed request body")

// expenseRequest is the wire form of an expense submission. Amounts may be
// JSON numbers or strings such as "300.000".
type expenseRequest struct {
	Name         string                     `json:"name"`
	Amount       json.RawMessage            `json:"amount"`
	Date         string                     `json:"date"`
	Payer        *payerRequest              `json:"payer"`
	Participants []string                   `json:"participants"`
	SplitMode    string                     `json:"split_mode"`
	ManualSplits map[string]json.RawMessage `json:"manual_splits"`
}

type payerRequest struct {
	Kind   string `json:"kind"`
	Member string `json:"member"`
}

type depositRequest struct {
	Member string          `json:"member"`
	Amount json.RawMessage `json:"amount"`
	Date   string          `json:"date"`
	Note   string          `json:"note"`
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body larger than %d bytes", errBadRequest, maxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", errBadRequest)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}

// parseAmount accepts a JSON number or string and returns positive Money.
func parseAmount(field string, raw json.RawMessage) (core.Money, error) {
	return parseMoneyField(field, raw, false)
}

// parseShare is parseAmount for manual split shares, where a member may owe
// nothing.
func parseShare(field string, raw json.RawMessage) (core.Money, error) {
	return parseMoneyField(field, raw, true)
}

func parseMoneyField(field string, raw json.RawMessage, allowZero bool) (core.Money, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, &core.ValidationError{Field: field, Reason: "is required", Err: core.ErrInvalidAmount}
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, &core.ValidationError{Field: field, Reason: "must be a string or number", Err: err}
		}
	}
	if allowZero && isZero(s) {
		return 0, nil
	}
	m, err := core.ParseMoney(s)
	if err != nil {
		return 0, &core.ValidationError{Field: field, Reason: err.Error(), Err: err}
	}
	return m, nil
}

// toInput converts the request into ledger input. Field-level problems are
// returned as *core.ValidationError; business rules are left to the ledger.
func (req expenseRequest) toInput(now func() time.Time) (core.ExpenseInput, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return core.ExpenseInput{}, err
	}
	date, err := parseDateOrToday(req.Date, now)
	if err != nil {
		return core.ExpenseInput{}, err
	}

	in := core.ExpenseInput{
		Name:      sanitizeInput(req.Name),
		Amount:    amount,
		Date:      date,
		SplitMode: core.SplitMode(strings.ToLower(strings.TrimSpace(req.SplitMode))),
	}

	if req.Payer != nil {
		p, err := core.ParsePayer(strings.TrimSpace(req.Payer.Kind), strings.TrimSpace(req.Payer.Member))
		if err != nil {
			return core.ExpenseInput{}, &core.ValidationError{Field: "payer", Reason: err.Error(), Err: err}
		}
		in.Payer = p
	}

	for _, p := range req.Participants {
		in.Participants = append(in.Participants, core.MemberID(sanitizeInput(p)))
	}

	if len(req.ManualSplits) > 0 {
		in.ManualSplits = make(map[core.MemberID]core.Money, len(req.ManualSplits))
		for member, raw := range req.ManualSplits {
			share, err := parseShare("manual_splits."+member, raw)
			if err != nil {
				return core.ExpenseInput{}, err
			}
			id := core.MemberID(sanitizeInput(member))
			if _, dup := in.ManualSplits[id]; dup {
				return core.ExpenseInput{}, &core.ValidationError{
					Field:  "manual_splits",
					Reason: fmt.Sprintf("member %q is listed more than once", id),
				}
			}
			in.ManualSplits[id] = share
		}
	}
	return in, nil
}

func (req depositRequest) parse(now func() time.Time) (core.MemberID, core.Money, core.Date, string, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return "", 0, core.Date{}, "", err
	}
	date, err := parseDateOrToday(req.Date, now)
	if err != nil {
		return "", 0, core.Date{}, "", err
	}
	return core.MemberID(sanitizeInput(req.Member)), amount, date, sanitizeInput(req.Note), nil
}

func isZero(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && strings.Trim(s, "0") == ""
}
