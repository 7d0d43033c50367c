package core

import (
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientFundBalance = errors.New("insufficient fund balance")
	ErrNotFound                = errors.New("not found")
	ErrPersistence             = errors.New("persistence failed")

	ErrInvalidAmount  = errors.New("amount must be a positive whole number")
	ErrEmptyName      = errors.New("name cannot be empty")
	ErrMissingPayer   = errors.New("payer is required")
	ErrNoParticipants = errors.New("at least one participant is required")
	ErrUnknownMember  = errors.New("unknown member")
	ErrSplitMismatch  = errors.New("manual splits do not add up to the amount")
)

// ValidationError rejects input before anything is mutated.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: err.Error(), Err: err}
}

// InsufficientFundBalanceError carries the balance that was available
// when a fund payment was refused.
type InsufficientFundBalanceError struct {
	Balance  int64
	Required Money
}

func (e *InsufficientFundBalanceError) Error() string {
	return fmt.Sprintf("insufficient fund balance: %s available, %s required",
		FormatUnits(e.Balance), e.Required)
}

func (e *InsufficientFundBalanceError) Is(target error) bool {
	return target == ErrInsufficientFundBalance
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PersistenceError wraps a failure of the backing store. In-memory state
// is left untouched when one is returned; callers retry or reload.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
